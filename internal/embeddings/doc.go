// Package embeddings turns text into fixed-size vectors for the vector store.
//
// Three providers sit behind the Provider interface:
//
//   - tei: a Text Embeddings Inference server (POST /embed)
//   - openai: any OpenAI-compatible /embeddings endpoint, via langchaingo
//   - fastembed: local ONNX inference (requires CGO)
//
// NewProvider selects one from ProviderConfig and, when no dimension is
// configured, derives it from the model name. Every provider checks that
// the vectors it returns have the expected dimension.
package embeddings
