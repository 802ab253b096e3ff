package rag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// manifest records the on-disk layout version, chunk count, embedding model
// name, and a checksum of the vector store so a reader can detect a torn
// write (process killed mid-persist), a config change that invalidated the
// embeddings (different model, same dimension), or bit rot, and refuse to
// load a corrupt or incompatible index rather than silently serving bad
// retrieval results.
type manifest struct {
	Version             int    `json:"version"`
	ChunkCount          int    `json:"chunk_count"`
	EmbeddingModelName  string `json:"embedding_model_name"`
	VectorStoreChecksum string `json:"vector_store_checksum"`
}

const manifestVersion = 1

const (
	manifestFile  = "manifest.json"
	parentsFile   = "parents.json"
	chunksFile    = "chunks.json"
	vectorsFile   = "vectors.bin"
)

// persistedState is the full in-memory snapshot written to disk atomically.
type persistedState struct {
	Parents []ParentChunk
	Chunks  []Chunk
}

// Save writes the index to dir using a write-to-temp-then-rename sequence per
// file so a crash mid-write leaves either the old or the new generation
// intact, never a half-written one, and only writes the manifest last so its
// presence means every other file succeeded. embeddingModel is recorded so a
// later Load under a different embedding model fails closed instead of
// mixing incompatible vectors into one search.
func Save(dir string, state persistedState, embeddingModel string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	if err := writeJSONAtomic(filepath.Join(dir, parentsFile), state.Parents); err != nil {
		return fmt.Errorf("write parents: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, chunksFile), state.Chunks); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	vectorsPath := filepath.Join(dir, vectorsFile)
	if err := writeVectorsAtomic(vectorsPath, state.Chunks); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	checksum, err := fileChecksum(vectorsPath)
	if err != nil {
		return fmt.Errorf("checksum vectors: %w", err)
	}

	m := manifest{
		Version:             manifestVersion,
		ChunkCount:          len(state.Chunks),
		EmbeddingModelName:  embeddingModel,
		VectorStoreChecksum: checksum,
	}
	if err := writeJSONAtomic(filepath.Join(dir, manifestFile), m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads a previously-saved index. A missing manifest (no prior save, or
// a save that never completed) is reported via ok=false rather than an error:
// the caller should treat it as "index not yet built." expectedEmbeddingModel
// is compared against the manifest's recorded model; a mismatch (operator
// swapped EMBEDDING_MODEL without rebuilding) is reported as an error rather
// than silently loading vectors from a different embedding space.
func Load(dir string, expectedEmbeddingModel string) (persistedState, bool, error) {
	manifestPath := filepath.Join(dir, manifestFile)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return persistedState{}, false, nil
	}

	var m manifest
	if err := readJSON(manifestPath, &m); err != nil {
		return persistedState{}, false, fmt.Errorf("read manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return persistedState{}, false, fmt.Errorf("unsupported index version %d", m.Version)
	}
	if expectedEmbeddingModel != "" && m.EmbeddingModelName != "" && m.EmbeddingModelName != expectedEmbeddingModel {
		return persistedState{}, false, fmt.Errorf("index corruption: index was built with embedding model %q, configured model is %q", m.EmbeddingModelName, expectedEmbeddingModel)
	}

	vectorsPath := filepath.Join(dir, vectorsFile)
	if m.VectorStoreChecksum != "" {
		actual, err := fileChecksum(vectorsPath)
		if err != nil {
			return persistedState{}, false, fmt.Errorf("checksum vectors: %w", err)
		}
		if actual != m.VectorStoreChecksum {
			return persistedState{}, false, fmt.Errorf("index corruption: vector store checksum mismatch")
		}
	}

	var state persistedState
	if err := readJSON(filepath.Join(dir, parentsFile), &state.Parents); err != nil {
		return persistedState{}, false, fmt.Errorf("read parents: %w", err)
	}
	if err := readJSON(filepath.Join(dir, chunksFile), &state.Chunks); err != nil {
		return persistedState{}, false, fmt.Errorf("read chunks: %w", err)
	}
	if err := readVectors(vectorsPath, state.Chunks); err != nil {
		return persistedState{}, false, fmt.Errorf("read vectors: %w", err)
	}

	if len(state.Chunks) != m.ChunkCount {
		return persistedState{}, false, fmt.Errorf("index corruption: manifest declares %d chunks, found %d", m.ChunkCount, len(state.Chunks))
	}

	return state, true, nil
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeVectorsAtomic writes each chunk's embedding as a length-prefixed binary
// record (chunk ID length + ID bytes + dimension count + float32 values),
// avoiding base64-in-JSON bloat for what can be a large dense array.
func writeVectorsAtomic(path string, chunks []Chunk) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, c := range chunks {
		if err := binary.Write(f, binary.LittleEndian, uint32(len(c.ID))); err != nil {
			return err
		}
		if _, err := f.WriteString(c.ID); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(len(c.Embedding))); err != nil {
			return err
		}
		for _, v := range c.Embedding {
			if err := binary.Write(f, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return err
			}
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readVectors(path string, chunks []Chunk) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	byID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		byID[c.ID] = i
	}

	for {
		var idLen uint32
		if err := binary.Read(f, binary.LittleEndian, &idLen); err != nil {
			break
		}
		idBytes := make([]byte, idLen)
		if _, err := f.Read(idBytes); err != nil {
			return err
		}
		var dim uint32
		if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
			return err
		}
		embedding := make([]float32, dim)
		for i := range embedding {
			var bits uint32
			if err := binary.Read(f, binary.LittleEndian, &bits); err != nil {
				return err
			}
			embedding[i] = math.Float32frombits(bits)
		}
		if idx, ok := byID[string(idBytes)]; ok {
			chunks[idx].Embedding = embedding
		}
	}
	return nil
}
