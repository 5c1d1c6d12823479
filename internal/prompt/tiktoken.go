package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// BPE ranks ship embedded in the binary; nothing is fetched at runtime.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

type tiktokenEncoder struct {
	tk *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Encode(text string) []int {
	return e.tk.Encode(text, nil, nil)
}

func (e tiktokenEncoder) Decode(tokens []int) string {
	return e.tk.Decode(tokens)
}

// TiktokenLoader resolves name first as a model, then as an encoding.
func TiktokenLoader(name string) (Encoder, error) {
	tk, err := tiktoken.EncodingForModel(name)
	if err != nil {
		tk, err = tiktoken.GetEncoding(name)
	}
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", name, err)
	}
	return tiktokenEncoder{tk: tk}, nil
}
