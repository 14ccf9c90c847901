package models

import (
	"reflect"
	"testing"
)

func TestSlidesMissingImagesAndPrompts(t *testing.T) {
	slides := Slides{
		{Title: "a", ImagePrompt: "sunrise", ImageURL: "data:image/png;base64,AAA"},
		{Title: "b", ImagePrompt: "  "},
		{Title: "c", ImagePrompt: "forest"},
	}

	if got := slides.MissingImages(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("MissingImages() = %v", got)
	}
	if got := slides.ImagePrompts(); !reflect.DeepEqual(got, []string{"sunrise", "forest"}) {
		t.Fatalf("ImagePrompts() = %v", got)
	}

	clone := slides.Clone()
	clone[0].Title = "changed"
	if slides[0].Title != "a" {
		t.Fatalf("Clone shares backing array")
	}
}

func TestSlidesScan(t *testing.T) {
	var s Slides
	if err := s.Scan(nil); err != nil || len(s) != 0 {
		t.Fatalf("Scan(nil) = %v, %v", s, err)
	}
	if err := s.Scan([]byte(`[{"title":"t","content":"c","image_url":"u"}]`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(s) != 1 || !s[0].HasImage() {
		t.Fatalf("Scan result = %+v", s)
	}
	if err := s.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestStringArrayScan(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  []string
	}{
		{name: "nil", value: nil, want: []string{}},
		{name: "json", value: `["a","b"]`, want: []string{"a", "b"}},
		{name: "single json string", value: []byte(`"solo"`), want: []string{"solo"}},
		{name: "postgres literal", value: `{sunset,"misty forest","quote \"x\""}`, want: []string{"sunset", "misty forest", `quote "x"`}},
		{name: "empty postgres literal", value: "{}", want: []string{}},
		{name: "plain text", value: "legacy", want: []string{"legacy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a StringArray
			if err := a.Scan(tt.value); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if !reflect.DeepEqual([]string(a), tt.want) {
				t.Fatalf("Scan(%v) = %#v, want %#v", tt.value, a, tt.want)
			}
		})
	}
}
