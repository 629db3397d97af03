package handlers

import "testing"

func TestParseUploadMetadata(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   map[string]string
	}{
		{
			name:   "empty header",
			header: "",
			want:   map[string]string{},
		},
		{
			name:   "single pair",
			header: "filename aC50eHQ=",
			want:   map[string]string{"filename": "h.txt"},
		},
		{
			name:   "two pairs",
			header: "filename aC50eHQ=, filetype dGV4dC9wbGFpbg==",
			want:   map[string]string{"filename": "h.txt", "filetype": "text/plain"},
		},
		{
			name:   "key without value",
			header: "confidential",
			want:   map[string]string{"confidential": ""},
		},
		{
			name:   "invalid base64 drops only that key",
			header: "filename !!!!,filetype dGV4dC9wbGFpbg==",
			want:   map[string]string{"filetype": "text/plain"},
		},
		{
			name:   "too many parts drops the element",
			header: "filename aC50eHQ= extra,filetype dGV4dC9wbGFpbg==",
			want:   map[string]string{"filetype": "text/plain"},
		},
	}

	for _, tc := range cases {
		got := parseUploadMetadata(tc.header)
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			continue
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Errorf("%s: key %q = %q, want %q", tc.name, k, got[k], v)
			}
		}
	}
}
