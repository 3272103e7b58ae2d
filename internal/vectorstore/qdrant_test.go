package vectorstore

import (
	"testing"

	"github.com/google/uuid"
)

func TestKey_Deterministic(t *testing.T) {
	docID := uuid.MustParse("2b8e1c0a-9f1f-4a6e-92f3-0d9a45a1c001")

	key := Key(docID, 3, 7)
	want := "2b8e1c0a-9f1f-4a6e-92f3-0d9a45a1c001_parent3_child7"
	if key != want {
		t.Errorf("Key = %q, want %q", key, want)
	}
	if Key(docID, 3, 7) != key {
		t.Error("Key is not deterministic")
	}
	if pointID(key) != pointID(key) {
		t.Error("pointID is not deterministic")
	}
	if pointID(key) == pointID(Key(docID, 3, 8)) {
		t.Error("distinct keys mapped to the same point id")
	}
}

func TestMetadataPayloadBoundary(t *testing.T) {
	docID := uuid.New()
	parentID := uuid.New()
	in := Metadata{
		DocumentID:    docID,
		DocumentTitle: "Discharge Summary",
		ParentChunkID: parentID,
		Text:          "patient presented with acute symptoms",
		ParentIndex:   2,
		ChildIndex:    5,
		Category:      CategoryDisease,
		PatientOwned:  true,
		PatientID:     "patient-42",
	}
	key := Key(docID, 2, 5)

	gotKey, out := metadataFromPayload(payloadFromMetadata(key, in))

	if gotKey != key {
		t.Errorf("key = %q, want %q", gotKey, key)
	}
	if out != in {
		t.Errorf("metadata changed across the payload boundary:\ngot  %+v\nwant %+v", out, in)
	}
}

func TestMetadataFromPayload_MissingParentRef(t *testing.T) {
	// Legacy/malformed entries may lack a parent reference; the parsed
	// form must carry a nil ParentChunkID so retrieval can drop the hit.
	key, m := metadataFromPayload(nil)
	if key != "" {
		t.Errorf("expected empty key, got %q", key)
	}
	if m.ParentChunkID != uuid.Nil {
		t.Errorf("expected nil parent reference, got %s", m.ParentChunkID)
	}
}

func TestBuildFilter(t *testing.T) {
	if f := buildFilter(Filter{}); f != nil {
		t.Error("empty filter should translate to nil")
	}

	f := buildFilter(Filter{
		Categories:         []Category{CategoryMedicine, CategoryDisease},
		ExcludePatientData: true,
	})
	if f == nil {
		t.Fatal("expected a filter")
	}
	if len(f.Must) != 1 {
		t.Errorf("expected 1 must condition, got %d", len(f.Must))
	}
	if len(f.MustNot) != 1 {
		t.Errorf("expected 1 must_not condition for patient exclusion, got %d", len(f.MustNot))
	}

	// A patient-scoped filter narrows instead of excluding.
	f = buildFilter(Filter{PatientID: "patient-42"})
	if f == nil {
		t.Fatal("expected a filter")
	}
	if len(f.Must) != 2 || len(f.MustNot) != 0 {
		t.Errorf("expected 2 must / 0 must_not, got %d/%d", len(f.Must), len(f.MustNot))
	}
}
