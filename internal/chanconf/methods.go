package chanconf

import (
	"fmt"
	"slices"
)

// Methods lists preferred transport algorithms in order of preference.
// Empty lists leave the transport defaults in place.
type Methods struct {
	KeyExchanges      []string `yaml:"kex,omitempty"`
	HostKeyAlgorithms []string `yaml:"hostkey,omitempty"`
	Ciphers           []string `yaml:"ciphers,omitempty"`
	MACs              []string `yaml:"macs,omitempty"`
	// Compression only accepts "none"; the transport does not compress.
	Compression []string `yaml:"compression,omitempty"`
}

func (m Methods) validate() error {
	lists := map[string][]string{
		"kex":     m.KeyExchanges,
		"hostkey": m.HostKeyAlgorithms,
		"cipher":  m.Ciphers,
		"mac":     m.MACs,
	}
	for kind, names := range lists {
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("%w: empty %s method name", ErrValidation, kind)
			}
		}
	}
	for _, name := range m.Compression {
		if name != "none" {
			return fmt.Errorf("%w: compression method %q is not supported", ErrValidation, name)
		}
	}
	return nil
}

func (m Methods) clone() Methods {
	return Methods{
		KeyExchanges:      slices.Clone(m.KeyExchanges),
		HostKeyAlgorithms: slices.Clone(m.HostKeyAlgorithms),
		Ciphers:           slices.Clone(m.Ciphers),
		MACs:              slices.Clone(m.MACs),
		Compression:       slices.Clone(m.Compression),
	}
}

func (m Methods) empty() bool {
	return len(m.KeyExchanges) == 0 && len(m.HostKeyAlgorithms) == 0 &&
		len(m.Ciphers) == 0 && len(m.MACs) == 0 && len(m.Compression) == 0
}

func (m Methods) toMap() map[string][]string {
	out := make(map[string][]string)
	if len(m.KeyExchanges) > 0 {
		out["kex"] = slices.Clone(m.KeyExchanges)
	}
	if len(m.HostKeyAlgorithms) > 0 {
		out["hostkey"] = slices.Clone(m.HostKeyAlgorithms)
	}
	if len(m.Ciphers) > 0 {
		out["cipher"] = slices.Clone(m.Ciphers)
	}
	if len(m.MACs) > 0 {
		out["mac"] = slices.Clone(m.MACs)
	}
	if len(m.Compression) > 0 {
		out["compression"] = slices.Clone(m.Compression)
	}
	return out
}
