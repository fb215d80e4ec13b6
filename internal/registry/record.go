package registry

// PeerRecord is the unit of registry state: one per live mesh node.
// Peer records are value-equal on all three fields; uniqueness in the
// registry is by PublicKey.
type PeerRecord struct {
	PublicKey string `json:"public_key"`
	Endpoint  string `json:"endpoint"`
	Address   string `json:"address"`
}

// Equal reports whether two peer records carry the same data.
func (p PeerRecord) Equal(o PeerRecord) bool {
	return p.PublicKey == o.PublicKey && p.Endpoint == o.Endpoint && p.Address == o.Address
}
