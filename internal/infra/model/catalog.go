// Package model ensures the selected model artifact exists locally and
// is verified functional, not merely present.
package model

import "fmt"

// CatalogEntry describes a downloadable model. The catalog is the
// "model phonebook" — it maps friendly names to GGUF file URLs.
type CatalogEntry struct {
	Name         string // Friendly name (e.g. "tinyllama")
	Description  string
	Family       string
	Parameters   string
	Quantization string
	SizeBytes    int64  // Approximate download size
	Repo         string // HuggingFace repo
	File         string // GGUF filename inside the repo
	Gated        bool   // Requires a bearer credential to download
}

// DownloadURL returns the direct download location for the entry.
func (e CatalogEntry) DownloadURL() string {
	return fmt.Sprintf("https://huggingface.co/%s/resolve/main/%s", e.Repo, e.File)
}

// Catalog is the built-in list of downloadable models: small, quantized
// models suitable for local inference.
var Catalog = []CatalogEntry{
	{
		Name:         "tinyllama",
		Description:  "TinyLlama 1.1B — fast, small, good for testing",
		Family:       "llama",
		Parameters:   "1.1B",
		Quantization: "Q4_K_M",
		SizeBytes:    669_000_000,
		Repo:         "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF",
		File:         "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf",
	},
	{
		Name:         "phi3",
		Description:  "Microsoft Phi-3 Mini 3.8B — strong for its size",
		Family:       "phi3",
		Parameters:   "3.8B",
		Quantization: "Q4_K_M",
		SizeBytes:    2_400_000_000,
		Repo:         "microsoft/Phi-3-mini-4k-instruct-gguf",
		File:         "Phi-3-mini-4k-instruct-q4.gguf",
	},
	{
		Name:         "qwen2.5",
		Description:  "Qwen 2.5 1.5B — fast multilingual model",
		Family:       "qwen2",
		Parameters:   "1.5B",
		Quantization: "Q4_K_M",
		SizeBytes:    986_000_000,
		Repo:         "Qwen/Qwen2.5-1.5B-Instruct-GGUF",
		File:         "qwen2.5-1.5b-instruct-q4_k_m.gguf",
	},
	{
		Name:         "llama3",
		Description:  "Meta Llama 3.2 1B Instruct — compact and capable",
		Family:       "llama",
		Parameters:   "1B",
		Quantization: "Q4_K_M",
		SizeBytes:    750_000_000,
		Repo:         "hugging-quants/Llama-3.2-1B-Instruct-Q4_K_M-GGUF",
		File:         "llama-3.2-1b-instruct-q4_k_m.gguf",
		Gated:        true,
	},
}

// Lookup finds a catalog entry by friendly name.
func Lookup(name string) *CatalogEntry {
	for i := range Catalog {
		if Catalog[i].Name == name {
			return &Catalog[i]
		}
	}
	return nil
}
