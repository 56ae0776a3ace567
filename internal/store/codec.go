package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// Reserved metadata keys on stored documents. Item-level metadata rides
// under the meta_ prefix so user keys can never collide with them.
const (
	metaKeyType         = "type"
	metaKeySource       = "source"
	metaKeyPriority     = "priority"
	metaKeyTimestamp    = "timestamp"
	metaKeyExpiresAt    = "expires_at"
	metaKeyTags         = "tags"
	metaKeyProjectID    = "project_id"
	metaKeySessionID    = "session_id"
	metaKeyTaskID       = "task_id"
	metaKeyChatID       = "chat_id"
	metaKeyOriginalID   = "original_id"
	metaKeyChunkIndex   = "chunk_index"
	metaKeyTotalChunks  = "total_chunks"
	metaKeyChunkOverlap = "chunk_overlap"

	metaUserPrefix = "meta_"
)

// encodeDocuments converts an item into its chunk documents. Every chunk
// carries the full metadata projection so a single chunk is enough to
// reconstruct the item's identity and filters.
func encodeDocuments(item *memory.ContextItem, chunks []Chunk) []vectorstore.Document {
	docs := make([]vectorstore.Document, len(chunks))
	for i, ch := range chunks {
		meta := map[string]string{
			metaKeyType:         string(item.Type),
			metaKeySource:       string(item.Source),
			metaKeyPriority:     item.Priority.String(),
			metaKeyTimestamp:    item.Timestamp.UTC().Format(time.RFC3339Nano),
			metaKeyOriginalID:   item.ID,
			metaKeyChunkIndex:   strconv.Itoa(ch.Index),
			metaKeyTotalChunks:  strconv.Itoa(ch.Total),
			metaKeyChunkOverlap: strconv.Itoa(ch.Overlap),
		}
		if !item.ExpiresAt.IsZero() {
			meta[metaKeyExpiresAt] = item.ExpiresAt.UTC().Format(time.RFC3339Nano)
		}
		if len(item.Tags) > 0 {
			meta[metaKeyTags] = strings.Join(item.Tags, ",")
		}
		if item.ProjectID != "" {
			meta[metaKeyProjectID] = item.ProjectID
		}
		if item.SessionID != "" {
			meta[metaKeySessionID] = item.SessionID
		}
		if item.TaskID != "" {
			meta[metaKeyTaskID] = item.TaskID
		}
		if item.ChatID != "" {
			meta[metaKeyChatID] = item.ChatID
		}
		for k, v := range item.Metadata {
			meta[metaUserPrefix+k] = stringifyMetaValue(v)
		}

		docs[i] = vectorstore.Document{
			ID:       ChunkID(item.ID, ch.Index, ch.Total),
			Content:  ch.Text,
			Metadata: meta,
		}
	}
	return docs
}

// minimizeDocuments strips a chunk set down to the structural metadata
// needed for reconstruction. Used for the single write retry after a
// metadata-related write failure.
func minimizeDocuments(docs []vectorstore.Document) []vectorstore.Document {
	keep := []string{
		metaKeyType, metaKeySource, metaKeyOriginalID,
		metaKeyChunkIndex, metaKeyTotalChunks, metaKeyChunkOverlap,
	}
	minimized := make([]vectorstore.Document, len(docs))
	for i, doc := range docs {
		meta := make(map[string]string, len(keep))
		for _, k := range keep {
			if v, ok := doc.Metadata[k]; ok {
				meta[k] = v
			}
		}
		minimized[i] = vectorstore.Document{ID: doc.ID, Content: doc.Content, Metadata: meta}
	}
	return minimized
}

// stringifyMetaValue reduces a metadata value to its string projection.
// Primitive values survive losslessly; complex values are stringified.
func stringifyMetaValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// chunkedDoc pairs a raw document with its parsed chunk position.
type chunkedDoc struct {
	doc        vectorstore.Document
	chunk      Chunk
	originalID string
}

// parseChunkedDoc extracts chunk bookkeeping from a document. Documents
// written without chunk metadata are treated as single whole items with an
// unknown overlap, which triggers the legacy space join on reassembly.
func parseChunkedDoc(doc vectorstore.Document) chunkedDoc {
	cd := chunkedDoc{
		doc:        doc,
		originalID: doc.Metadata[metaKeyOriginalID],
	}
	if cd.originalID == "" {
		cd.originalID = doc.ID
	}
	cd.chunk = Chunk{
		Text:    doc.Content,
		Index:   parseIntOr(doc.Metadata[metaKeyChunkIndex], 0),
		Total:   parseIntOr(doc.Metadata[metaKeyTotalChunks], 1),
		Overlap: parseIntOr(doc.Metadata[metaKeyChunkOverlap], -1),
	}
	return cd
}

// decodeItem reassembles one logical item from its chunk documents. The
// identity metadata is taken from the lowest-indexed chunk.
func decodeItem(chunker *Chunker, docs []chunkedDoc) *memory.ContextItem {
	if len(docs) == 0 {
		return nil
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].chunk.Index < docs[j].chunk.Index })

	chunks := make([]Chunk, 0, len(docs))
	seen := make(map[int]bool, len(docs))
	for _, cd := range docs {
		// Deduplicate chunks that arrived from more than one query.
		if seen[cd.chunk.Index] {
			continue
		}
		seen[cd.chunk.Index] = true
		chunks = append(chunks, cd.chunk)
	}

	head := docs[0].doc.Metadata
	item := &memory.ContextItem{
		ID:        docs[0].originalID,
		Type:      memory.ItemType(head[metaKeyType]),
		Source:    memory.ItemSource(head[metaKeySource]),
		Content:   chunker.Join(chunks),
		Metadata:  make(map[string]any),
		Priority:  memory.ParsePriority(head[metaKeyPriority]),
		ProjectID: head[metaKeyProjectID],
		SessionID: head[metaKeySessionID],
		TaskID:    head[metaKeyTaskID],
		ChatID:    head[metaKeyChatID],
	}
	if ts := head[metaKeyTimestamp]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			item.Timestamp = parsed
		}
	}
	if exp := head[metaKeyExpiresAt]; exp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, exp); err == nil {
			item.ExpiresAt = parsed
		}
	}
	if tags := head[metaKeyTags]; tags != "" {
		item.Tags = strings.Split(tags, ",")
	}
	for k, v := range head {
		if strings.HasPrefix(k, metaUserPrefix) {
			item.Metadata[strings.TrimPrefix(k, metaUserPrefix)] = v
		}
	}
	return item
}

// pinnedScore returns the relevance score pinned in the item's metadata
// bag, if any. Stored scores are otherwise never trusted; relevance is
// recomputed per query.
func pinnedScore(item *memory.ContextItem) (float64, bool) {
	raw, ok := item.Metadata[memory.MetaStoredScore]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return memory.ClampScore(v), true
	case string:
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return memory.ClampScore(score), true
	default:
		return 0, false
	}
}

func parseIntOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
