package transformer

const PassthroughName = "passthrough"

// Passthrough publishes the inbound payload unchanged
type Passthrough struct{}

func (Passthrough) Name() string                       { return PassthroughName }
func (Passthrough) IsValidMessage(payload string) bool { return isNotBlank(payload) }

func (p Passthrough) Transform(payload string) (string, error) {
	if !p.IsValidMessage(payload) {
		return "", reject("Empty message")
	}
	return payload, nil
}
