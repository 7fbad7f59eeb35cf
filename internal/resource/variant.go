package resource

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// DefaultRepository is the Hugging Face repository the default variants
// are published in.
const DefaultRepository = "QuantFactory/Meta-Llama-3-8B-Instruct-GGUF"

// DefaultVariantKey is substituted for unknown variant keys.
const DefaultVariantKey = "Q4_K_M"

// Variant is one downloadable form of the model.
type Variant struct {
	Key      string
	Filename string
	// Digest, when set, is checked against the downloaded file.
	Digest digest.Digest
}

// VariantTable is a closed, ordered set of variants with a designated
// default. The zero value is empty; [BuildDescriptor] replaces an empty
// table with [DefaultVariants].
type VariantTable struct {
	variants []Variant
	def      int
}

// NewVariantTable builds a table. Keys must be unique and non-empty and
// defaultKey must be one of them.
func NewVariantTable(defaultKey string, variants ...Variant) (VariantTable, error) {
	if len(variants) == 0 {
		return VariantTable{}, fmt.Errorf("variant table is empty")
	}
	seen := make(map[string]bool, len(variants))
	def := -1
	for i, v := range variants {
		if v.Key == "" || v.Filename == "" {
			return VariantTable{}, fmt.Errorf("variant %d: key and filename are required", i)
		}
		if seen[v.Key] {
			return VariantTable{}, fmt.Errorf("duplicate variant %q", v.Key)
		}
		if v.Digest != "" {
			if err := v.Digest.Validate(); err != nil {
				return VariantTable{}, fmt.Errorf("variant %s: %w", v.Key, err)
			}
		}
		seen[v.Key] = true
		if v.Key == defaultKey {
			def = i
		}
	}
	if def < 0 {
		return VariantTable{}, fmt.Errorf("default variant %q is not in the table", defaultKey)
	}
	return VariantTable{variants: append([]Variant(nil), variants...), def: def}, nil
}

// DefaultVariants returns the Meta-Llama-3-8B-Instruct GGUF
// quantizations, defaulting to Q4_K_M.
func DefaultVariants() VariantTable {
	t, err := NewVariantTable(DefaultVariantKey,
		Variant{Key: "Q4_0", Filename: "Meta-Llama-3-8B-Instruct.Q4_0.gguf"},
		Variant{Key: "Q4_K_M", Filename: "Meta-Llama-3-8B-Instruct.Q4_K_M.gguf"},
		Variant{Key: "Q5_K_M", Filename: "Meta-Llama-3-8B-Instruct.Q5_K_M.gguf"},
		Variant{Key: "Q8_0", Filename: "Meta-Llama-3-8B-Instruct.Q8_0.gguf"},
	)
	if err != nil {
		panic(err) // static table
	}
	return t
}

// Len returns the number of variants.
func (t VariantTable) Len() int { return len(t.variants) }

// Lookup finds a variant by exact key.
func (t VariantTable) Lookup(key string) (Variant, bool) {
	for _, v := range t.variants {
		if v.Key == key {
			return v, true
		}
	}
	return Variant{}, false
}

// Default returns the default variant, or the zero Variant for an
// empty table.
func (t VariantTable) Default() Variant {
	if len(t.variants) == 0 {
		return Variant{}
	}
	return t.variants[t.def]
}

// Keys returns the variant keys in table order.
func (t VariantTable) Keys() []string {
	keys := make([]string, len(t.variants))
	for i, v := range t.variants {
		keys[i] = v.Key
	}
	return keys
}

// Variants returns a copy of the variants in table order.
func (t VariantTable) Variants() []Variant {
	return append([]Variant(nil), t.variants...)
}

// WithDigests returns a copy of the table with digests pinned per key.
// Unknown keys are an error so that a typo in configuration does not
// silently disable verification.
func (t VariantTable) WithDigests(digests map[string]string) (VariantTable, error) {
	out := VariantTable{variants: t.Variants(), def: t.def}
	for key, raw := range digests {
		idx := -1
		for i, v := range out.variants {
			if v.Key == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return VariantTable{}, fmt.Errorf("digest for unknown variant %q", key)
		}
		d, err := digest.Parse(raw)
		if err != nil {
			return VariantTable{}, fmt.Errorf("digest for %s: %w", key, err)
		}
		out.variants[idx].Digest = d
	}
	return out, nil
}
