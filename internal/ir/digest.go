package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainTrace separates trace digests from any other hash of the same bytes.
const DomainTrace = "tempo/trace/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TraceDigest hashes the observable behavior of a run: the ordered instants
// and dispatches. Run IDs and physical lag are excluded so that a replay of
// the same program in fast mode yields the same digest.
func TraceDigest(instants []InstantRecord, dispatches []DispatchRecord) (string, error) {
	ins := make(IRArray, len(instants))
	for i, rec := range instants {
		triggers := make(IRArray, len(rec.Triggers))
		for j, name := range rec.Triggers {
			triggers[j] = IRString(name)
		}
		ins[i] = IRObject{
			"seq":       IRInt(rec.Seq),
			"elapsed":   IRInt(rec.Elapsed),
			"microstep": IRInt(rec.Tag.Microstep),
			"triggers":  triggers,
		}
	}

	ds := make(IRArray, len(dispatches))
	for i, rec := range dispatches {
		ds[i] = IRObject{
			"seq":      IRInt(rec.Seq),
			"instant":  IRInt(rec.Instant),
			"reaction": IRString(rec.Reaction),
			"priority": IRInt(rec.Priority),
		}
	}

	canonical, err := marshalCanonical(IRObject{
		"instants":   ins,
		"dispatches": ds,
	})
	if err != nil {
		return "", fmt.Errorf("TraceDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}
