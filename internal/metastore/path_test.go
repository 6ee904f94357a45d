package metastore

import "testing"

func TestDirectChild(t *testing.T) {
	tests := []struct {
		prefix, path string
		wantChild    string
		wantOK       bool
	}{
		{"/chunks", "/chunks/abc", "/chunks/abc", true},
		{"/chunks", "/chunks/abc/meta", "", false},
		{"/chunks", "/other/abc", "", false},
		{"/chunks", "/chunks", "", false},
		{"/", "/a", "/a", true},
		{"/", "/a/b", "", false},
		{"/chunks/", "/chunks/abc", "/chunks/abc", true},
	}
	for _, tt := range tests {
		child, ok := directChild(tt.prefix, tt.path)
		if ok != tt.wantOK || child != tt.wantChild {
			t.Errorf("directChild(%q, %q) = (%q, %v), want (%q, %v)",
				tt.prefix, tt.path, child, ok, tt.wantChild, tt.wantOK)
		}
	}
}
