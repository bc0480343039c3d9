package pdpexplorer

// RootsPage is the response of GET /api/proofsets/{id}/roots.
type RootsPage struct {
	Data     []Root   `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// Root is one proof root of a proof set. Only CID and the two epochs drive
// status derivation; the rest is carried for logging and the status API.
type Root struct {
	RootID               uint64  `json:"rootId"`
	CID                  string  `json:"cid"`
	Size                 uint64  `json:"size"`
	Removed              bool    `json:"removed"`
	TotalPeriodsFaulted  uint64  `json:"totalPeriodsFaulted"`
	TotalProofsSubmitted uint64  `json:"totalProofsSubmitted"`
	LastProvenEpoch      uint64  `json:"lastProvenEpoch"`
	LastProvenAt         *string `json:"lastProvenAt"`
	LastFaultedEpoch     uint64  `json:"lastFaultedEpoch"`
	LastFaultedAt        *string `json:"lastFaultedAt"`
	CreatedAt            string  `json:"createdAt"`
}

// HasEpochs reports whether the explorer has recorded any proof or fault for the root.
func (r Root) HasEpochs() bool {
	return r.LastProvenEpoch > 0 || r.LastFaultedEpoch > 0
}

// IsFaulty reports a root that was proven but faulted after its last proof.
func (r Root) IsFaulty() bool {
	return r.LastProvenEpoch > 0 && r.LastProvenEpoch < r.LastFaultedEpoch
}

// IsProven reports a root with at least one successful proof.
func (r Root) IsProven() bool {
	return r.LastProvenEpoch > 0
}

// Metadata is the pagination block of a RootsPage.
type Metadata struct {
	Total  uint64 `json:"total"`
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}
