package signing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jwalitptl/rx-ledger/internal/model"
)

// CanonicalVersion is bumped whenever the sealed field set changes.
const CanonicalVersion = 1

// TimeLayout is the fixed timestamp format of the canonical form. PostgreSQL
// keeps microseconds, so anything finer would not survive a round trip.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

type canonicalItem struct {
	Dosage   string `json:"dosage"`
	DrugCode string `json:"drug_code"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type canonicalContent struct {
	CreatedAt string          `json:"created_at"`
	DoctorID  string          `json:"doctor_id"`
	Items     []canonicalItem `json:"items"`
	PatientID string          `json:"patient_id"`
	Version   int             `json:"v"`
}

// Content is the subset of a prescription the seal commits to. Status,
// notes, anchor and dispensation fields are deliberately excluded.
type Content struct {
	PatientID string
	DoctorID  string
	CreatedAt time.Time
	Items     []model.PrescriptionItem
}

func ContentOf(rx *model.Prescription) Content {
	return Content{
		PatientID: rx.PatientID,
		DoctorID:  rx.DoctorID,
		CreatedAt: rx.CreatedAt,
		Items:     rx.Items,
	}
}

// NormalizeTime truncates to the precision the canonical form carries.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Canonical serializes the content as compact JSON with lexicographically
// sorted keys and no HTML escaping. Items keep their stored order.
func Canonical(c Content) []byte {
	items := make([]canonicalItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, canonicalItem{
			Dosage:   it.Dosage,
			DrugCode: it.DrugCode,
			Name:     it.Name,
			Quantity: it.Quantity,
		})
	}
	doc := canonicalContent{
		CreatedAt: NormalizeTime(c.CreatedAt).Format(TimeLayout),
		DoctorID:  c.DoctorID,
		Items:     items,
		PatientID: c.PatientID,
		Version:   CanonicalVersion,
	}
	return jsonCanonical(doc)
}

// Digest returns the SHA-256 of the canonical bytes as hex and raw.
func Digest(c Content) (string, []byte) {
	sum := sha256.Sum256(Canonical(c))
	return hex.EncodeToString(sum[:]), sum[:]
}

// DigestBytes decodes a stored hex digest.
func DigestBytes(hexDigest string) ([]byte, bool) {
	b, err := hex.DecodeString(hexDigest)
	if err != nil || len(b) != sha256.Size {
		return nil, false
	}
	return b, true
}

// jsonCanonical round-trips through a generic map so that key order is
// lexicographic at every level regardless of struct field order.
func jsonCanonical(obj interface{}) []byte {
	m, _ := json.Marshal(obj)

	dec := json.NewDecoder(bytes.NewReader(m))
	dec.UseNumber()
	var temp interface{}
	_ = dec.Decode(&temp)

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(temp)
	return bytes.TrimSpace(buf.Bytes())
}
