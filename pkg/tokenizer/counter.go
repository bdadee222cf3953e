package tokenizer

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Encodings accepted by Count.
const (
	EncodingO200k  = "o200k_base"
	EncodingCl100k = "cl100k_base"
	EncodingApprox = "approx"
)

// Count returns the token count of text under the named encoding. The approx
// encoding estimates at four characters per token, which is close enough for
// threshold previews when no exact tokenizer matches the model in use.
func Count(text, encoding string) (int64, error) {
	switch encoding {
	case EncodingO200k:
		return encode(text, tokenizer.O200kBase)
	case EncodingCl100k:
		return encode(text, tokenizer.Cl100kBase)
	case EncodingApprox, "":
		return Approximate(text), nil
	default:
		return 0, fmt.Errorf("unknown encoding %q (use %s, %s, or %s)", encoding, EncodingO200k, EncodingCl100k, EncodingApprox)
	}
}

func encode(text string, enc tokenizer.Encoding) (int64, error) {
	codec, err := tokenizer.Get(enc)
	if err != nil {
		return 0, fmt.Errorf("load encoding %s: %w", enc, err)
	}

	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}

	return int64(len(ids)), nil
}

// Approximate estimates tokens at four characters per token.
func Approximate(text string) int64 {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0
	}
	return int64((len(text) + 3) / 4)
}
