// Package embeddings provides embedding generation via multiple providers.
//
// Two providers are supported: fastembed runs local ONNX models and needs
// no network (CGO builds only), tei talks to any OpenAI-compatible
// embedding endpoint such as a Text Embeddings Inference server.
//
// Providers implement vectorstore.Embedder plus Dimension and Close, so
// the vector store can be wired without knowing which provider backs it.
package embeddings
