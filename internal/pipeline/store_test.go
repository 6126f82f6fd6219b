package pipeline

import "testing"

func TestMapEntityIDRemapsProvisionalIDs(t *testing.T) {
	t.Parallel()

	idMap := map[int64]int64{-1: 41, -2: 42}

	got, err := mapEntityID(idMap, -2)
	if err != nil || got != 42 {
		t.Fatalf("mapEntityID(-2) = %d, %v, want 42", got, err)
	}

	got, err = mapEntityID(idMap, 7)
	if err != nil || got != 7 {
		t.Fatalf("mapEntityID(7) = %d, %v, want committed id to pass through", got, err)
	}

	if _, err := mapEntityID(idMap, -9); err == nil {
		t.Fatal("an unknown provisional id must error")
	}
}

func TestMarshalTermsEncodesEmptyAsArray(t *testing.T) {
	t.Parallel()

	encoded, err := marshalTerms(nil)
	if err != nil {
		t.Fatalf("marshalTerms(nil): %v", err)
	}
	if string(encoded) != "[]" {
		t.Fatalf("encoded = %s, want []", encoded)
	}

	encoded, err = marshalTerms([]string{"endpoint", "phase 3"})
	if err != nil {
		t.Fatalf("marshalTerms: %v", err)
	}
	if string(encoded) != `["endpoint","phase 3"]` {
		t.Fatalf("encoded = %s", encoded)
	}
}
