/*
Package provisioning implements the one-time key provisioning state machine.

	Init ──key present──────────────────────────────▶ KeyTaken{0}
	  │
	  └─no key─▶ WaitingForEntropy{1} ─ … ─▶ WaitingForEntropy{3600}
	                                                  │
	                                                  ▼
	                         ShouldGenerateKey ──write, read back──▶ KeyTaken{0} ─▶ KeyTaken{1} ─▶ …

Key generation is deferred by the entropy window (one hour at the default
one-second tick) so the random source has accumulated entropy from prior
radio activity. The transition to ShouldGenerateKey is irreversible: a
failed one-time write is fatal and is never retried.

States form a closed sum type. Machine.Step performs one transition and can
be driven directly by tests; Machine.Run and Machine.AwaitIdentity add the
tick timing.
*/
package provisioning
