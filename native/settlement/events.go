package settlement

import "paysettle/core/events"

func summary(ix instruction, fee uint64) events.PaymentSummary {
	source := ix.transfer.Source
	payer := ix.transfer.Payer
	if ix.variant == VariantSwapMediated {
		source = ix.swap.Source
		payer = ix.swap.Payer
	}
	return events.PaymentSummary{
		OrderID:      ix.payment.OrderID,
		PayInAsset:   ix.payment.PayInAsset,
		PayOutAsset:  ix.payment.PayOutAsset,
		PayInAmount:  ix.payment.PayInAmount,
		PayOutAmount: ix.payment.PayOutAmount,
		FeeCollected: fee,
		Merchant:     ix.payment.Merchant,
		Payer:        payer,
		Source:       source,
	}
}

func settlementEvent(ix instruction, p *plan) events.Typed {
	base := summary(ix, p.fee)
	switch {
	case ix.donation && ix.variant == VariantSwapMediated:
		return events.DonationCompleted{PaymentSummary: base, Treasury: ix.swap.Treasury, Protocol: normalizeProtocol(ix.route.Protocol), Pool: ix.route.Pool}
	case ix.donation:
		return events.DonationCompleted{PaymentSummary: base, Treasury: ix.transfer.Treasury}
	case ix.variant == VariantSplitFee:
		return events.PaymentFeeDistributed{PaymentSummary: base, Receivers: p.shares, Dust: p.dust}
	case ix.variant == VariantSwapMediated:
		return events.SwapPaymentCompleted{
			PaymentSummary: base,
			Treasury:       ix.swap.Treasury,
			Protocol:       normalizeProtocol(ix.route.Protocol),
			Pool:           ix.route.Pool,
			SwapOutput:     p.swapOutput,
		}
	default:
		return events.PaymentCompleted{PaymentSummary: base, Treasury: ix.transfer.Treasury}
	}
}
