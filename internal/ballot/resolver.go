package ballot

import (
	"context"

	"kioskvote.org/internal/eligibility"
)

const probeSerial = "0"

// Resolution is the outcome of serial discovery. Serial is nil when the
// service rejected the probe without a correction hint.
type Resolution struct {
	Result eligibility.Result
	Serial *string
	Calls  int
}

// ResolveSerial probes uid at serial "0". A rejection ending in ":<digits>"
// is retried once at that serial; any other rejection is returned as is.
func ResolveSerial(ctx context.Context, client eligibility.Client, uid string) (Resolution, error) {
	res, err := client.Lookup(ctx, uid, probeSerial)
	if err != nil {
		return Resolution{Calls: 1}, err
	}
	if res.Error == "" {
		return Resolution{Result: res, Serial: strPtr(probeSerial), Calls: 1}, nil
	}

	hint, ok := eligibility.SerialHint(res.Error)
	if !ok {
		return Resolution{Result: res, Calls: 1}, nil
	}

	res, err = client.Lookup(ctx, uid, hint)
	if err != nil {
		return Resolution{Calls: 2}, err
	}
	return Resolution{Result: res, Serial: strPtr(hint), Calls: 2}, nil
}
