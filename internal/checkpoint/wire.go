package checkpoint

import "encoding/json"

// wireDelta is the on-the-wire form of a SourceCheckpointDelta (spec §6):
// `{ source_id, per_partition: [ { partition_id, from, to } ] }`.
type wireDelta struct {
	SourceID    string            `json:"source_id"`
	PerPartition []wirePartition `json:"per_partition"`
}

type wirePartition struct {
	PartitionID string `json:"partition_id"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// MarshalJSON renders an IndexCheckpointDelta in the canonical wire form.
func (d IndexCheckpointDelta) MarshalJSON() ([]byte, error) {
	w := wireDelta{SourceID: d.SourceID}
	for _, p := range d.SourceDelta.Partitions() {
		pd := d.SourceDelta[p]
		w.PerPartition = append(w.PerPartition, wirePartition{
			PartitionID: string(p),
			From:        pd.From.String(),
			To:          pd.To.String(),
		})
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the canonical wire form back into an IndexCheckpointDelta.
func (d *IndexCheckpointDelta) UnmarshalJSON(data []byte) error {
	var w wireDelta
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	delta := make(SourceCheckpointDelta, len(w.PerPartition))
	for _, wp := range w.PerPartition {
		from, err := parseWirePosition(wp.From)
		if err != nil {
			return err
		}
		to, err := parseWirePosition(wp.To)
		if err != nil {
			return err
		}
		delta[PartitionID(wp.PartitionID)] = PartitionDelta{From: from, To: to}
	}
	d.SourceID = w.SourceID
	d.SourceDelta = delta
	return nil
}

func parseWirePosition(s string) (Position, error) {
	if s == "-" {
		return Beginning, nil
	}
	return OffsetString(s)
}

// MarshalJSON renders a Position as either the literal "-" (Beginning) or a
// zero-padded decimal string (spec §6).
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a Position from its wire form.
func (p *Position) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	pos, err := parseWirePosition(s)
	if err != nil {
		return err
	}
	*p = pos
	return nil
}
