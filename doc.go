// Package payrelay is the reliability core of a Solana payment platform.
//
// It is a library, not a service. A host application imports it to get:
//   - wallet ownership proofs (Ed25519 signatures over a time-bound challenge)
//   - a payment lifecycle with a periodic timeout sweep
//   - signed webhook delivery with exponential backoff and per-attempt history
//   - tiered sliding-window admission control for the public API
//
// Every state change is recorded as an event, and events are what the
// delivery engine fans out to the webhook endpoints of the owning project.
//
// Quick start:
//
//	r, err := payrelay.New(
//	    payrelay.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r.Start(ctx)
//	defer r.Stop(ctx)
//
//	reg, _ := r.Endpoints().Register(ctx, endpoint.Input{
//	    ProjectID: "proj_123",
//	    URL:       "https://merchant.example/webhooks",
//	})
//	p, _ := r.Payments().Create(ctx, payment.CreateInput{
//	    ProjectID: "proj_123",
//	    Currency:  payment.CurrencyUSDC,
//	    Amount:    25_000_000,
//	})
//
// reg.Secret is shown once; the merchant uses it with signature.VerifyHeaders
// to authenticate deliveries.
package payrelay
