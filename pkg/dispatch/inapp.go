package dispatch

import "context"

// InAppProvider is the provider name in-app sends are recorded under.
const InAppProvider = "in_app"

// InAppTransport is the loopback transport for the in-app channel.
// There is no external provider: the stored record already is the
// delivery, so Send only acknowledges with the attempt ID as its
// correlation key.
type InAppTransport struct{}

// NewInAppTransport creates the in-app loopback transport.
func NewInAppTransport() *InAppTransport {
	return &InAppTransport{}
}

func (*InAppTransport) Send(ctx context.Context, inst Instruction) (SendResult, error) {
	return SendResult{
		Provider:          InAppProvider,
		ProviderMessageID: inst.AttemptID,
	}, nil
}
