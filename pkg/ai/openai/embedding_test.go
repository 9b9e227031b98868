package openai

import "testing"

func TestFitDimension(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		dim  int
		want []float32
	}{
		{name: "pad", in: []float64{1, 2}, dim: 4, want: []float32{1, 2, 0, 0}},
		{name: "truncate", in: []float64{1, 2, 3}, dim: 2, want: []float32{1, 2}},
		{name: "exact", in: []float64{0.5}, dim: 1, want: []float32{0.5}},
		{name: "unset dim keeps length", in: []float64{1, 2, 3}, dim: 0, want: []float32{1, 2, 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := fitDimension(tc.in, tc.dim)
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestGenerateEmbeddingsSkipsBlankInputs(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{EmbeddingDim: 3})
	out, err := c.GenerateEmbeddings(t.Context(), [][]byte{[]byte("  "), nil})
	if err != nil {
		t.Fatalf("GenerateEmbeddings() error = %v", err)
	}
	if len(out) != 2 || len(out[0]) != 3 || len(out[1]) != 3 {
		t.Fatalf("GenerateEmbeddings() = %v, want two zero vectors of dim 3", out)
	}
}
