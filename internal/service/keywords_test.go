package service

import (
	"reflect"
	"testing"
)

func TestIsITRelevant(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Forslag til lov om ændring af lov om Digital Post", true},
		{"Lov om CYBERSIKKERHED i kritisk infrastruktur", true},
		{"Forslag til lov om ændring af færdselsloven", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsITRelevant(tt.text); got != tt.want {
			t.Errorf("IsITRelevant(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestExtractITTopics(t *testing.T) {
	got := ExtractITTopics("Lov om MitID og bredbånd")
	want := []string{"bredbånd", "it", "mitid"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractITTopics = %v, want %v", got, want)
	}

	if got := ExtractITTopics(""); got == nil || len(got) != 0 {
		t.Errorf("ExtractITTopics(\"\") = %#v, want empty slice", got)
	}
}
