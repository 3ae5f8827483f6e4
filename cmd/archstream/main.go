// Command archstream packs a file into a content-addressed chunk store
// and unpacks it back out, exercising the full write/read pipeline:
// chunk buffer or robust unpacker, retry policy, optional Reed-Solomon
// parity and optional at-rest encryption, driven against a BoltDB chunk
// store.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"time"

	"github.com/google/uuid"

	"github.com/pravinbhuari/archivestream/daemon/manager"
	"github.com/pravinbhuari/archivestream/daemon/service"
	"github.com/pravinbhuari/archivestream/internal/chunkbuffer"
	"github.com/pravinbhuari/archivestream/internal/chunker"
	"github.com/pravinbhuari/archivestream/internal/chunkstore"
	"github.com/pravinbhuari/archivestream/internal/crypto"
	"github.com/pravinbhuari/archivestream/internal/fec"
	"github.com/pravinbhuari/archivestream/internal/observability"
	"github.com/pravinbhuari/archivestream/internal/ratelimit"
	"github.com/pravinbhuari/archivestream/internal/record"
	"github.com/pravinbhuari/archivestream/internal/unpacker"
	"github.com/pravinbhuari/archivestream/internal/validation"
)

// recordPayloadSize is how many bytes of the input file each emitted
// record carries. It is independent of the chunk buffer's own target
// size: several records are still packed into one chunk.
const recordPayloadSize = 65536

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "pack":
		packCmd(os.Args[2:])
	case "unpack":
		unpackCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("archstream - archive pack/unpack tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  archstream pack   [flags] <input-file>")
	fmt.Println("  archstream unpack [flags] <session-id> <output-file>")
	fmt.Println()
	fmt.Println("Run 'archstream <command> -h' for command-specific flags")
}

// archiveKeysFor derives the encryption keys for sessionID from
// passphrase, using the session id itself as the HKDF salt. This is
// deliberately not the manifest's Merkle root: the root isn't known
// until every chunk has been written, and chunks must be encrypted as
// they're produced, before the manifest exists. Binding to the session
// id instead still gives each archive an independent key, at the cost
// of not cryptographically binding the key to the final chunk list.
func archiveKeysFor(passphrase, sessionID string) (*crypto.SessionKeys, error) {
	secret := sha256.Sum256([]byte(passphrase))
	salt := sha256.Sum256([]byte(sessionID))
	return crypto.DeriveArchiveKey(secret[:], salt[:])
}

func packCmd(args []string) {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	dbPath := fs.String("db", "cas.db", "path to the BoltDB chunk store")
	manifestDir := fs.String("manifests", "manifests", "directory to persist the manifest under")
	session := fs.String("session", "", "session id (default: a freshly generated UUID)")
	chunkTarget := fs.Int("chunk-size", 1<<20, "soft chunk size target in bytes")
	fecK := fs.Int("fec-k", 0, "Reed-Solomon data shards per parity group (0 disables parity)")
	fecR := fs.Int("fec-r", 2, "Reed-Solomon parity shards per group")
	passphrase := fs.String("passphrase", "", "encrypt chunks at rest with this passphrase (empty disables encryption)")
	rate := fs.Float64("rate", 0, "cap sink writes to this many bytes/sec (0 disables throttling)")
	rateBurst := fs.Int("rate-burst", 4<<20, "token bucket burst size in bytes, used only when -rate > 0")
	stateDB := fs.String("state-db", "", "path to a SQLite database for session bookkeeping (empty disables persistence)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: archstream pack [flags] <input-file>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	inputPath := fs.Arg(0)

	if err := validation.ValidateFilePath(inputPath, true); err != nil {
		fmt.Fprintf(os.Stderr, "invalid input path: %v\n", err)
		os.Exit(1)
	}
	if err := validation.ValidateRangeInt(*chunkTarget, 1, 1<<30); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -chunk-size: %v\n", err)
		os.Exit(1)
	}
	if *fecK > 0 {
		if err := validation.ValidateRangeInt(*fecR, 1, 255-*fecK); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -fec-r: %v\n", err)
			os.Exit(1)
		}
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	log := observability.NewLogger("archstream", "pack", os.Stderr)
	metrics := observability.NewMetrics()

	data, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input: %v\n", err)
		os.Exit(1)
	}

	bolt, err := chunkstore.OpenBoltSink(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open chunk store: %v\n", err)
		os.Exit(1)
	}
	defer bolt.Close()

	var sink chunkbuffer.Sink = bolt

	// Throttling wraps the raw store first, so the rate cap governs every
	// physical byte landing in it, including parity shards FEC adds below.
	if *rate > 0 {
		bucket := ratelimit.NewTokenBucket(*rate, *rateBurst)
		sink = chunkstore.NewThrottledSink(context.Background(), sink, bucket)
	}

	var parity *fec.ParitySink
	if *fecK > 0 {
		parity, err = fec.NewParitySink(sink, *fecK, *fecR)
		if err != nil {
			fmt.Fprintf(os.Stderr, "set up parity sink: %v\n", err)
			os.Exit(1)
		}
		sink = parity
	}

	if *passphrase != "" {
		keys, err := archiveKeysFor(*passphrase, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "derive archive keys: %v\n", err)
			os.Exit(1)
		}
		sink = crypto.NewEncryptedSink(sink, keys)
	}

	var store *manager.PersistentStore
	if *stateDB != "" {
		store, err = manager.NewPersistentStore(*stateDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open state db: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	retrying := service.NewRetryingSink(sink, service.DefaultRetryPolicy(), nil, sessionID)
	retrying.Metrics = metrics

	log.ArchiveStarted(sessionID, int64(len(data)), 0)
	start := time.Now()

	writer := service.NewArchiveWriter(sessionID, retrying, *chunkTarget)

	// SessionStore tracks every session this process has touched; a
	// longer-lived daemon would use it to answer "what's in flight right
	// now" across many concurrent writers instead of just this one.
	registry := manager.NewSessionStore()
	if err := registry.Add(writer.Session()); err != nil {
		fmt.Fprintf(os.Stderr, "register session: %v\n", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.SaveSession(writer.Session()); err != nil {
			fmt.Fprintf(os.Stderr, "persist session: %v\n", err)
			os.Exit(1)
		}
	}

	for offset := 0; offset < len(data); offset += recordPayloadSize {
		end := offset + recordPayloadSize
		if end > len(data) {
			end = len(data)
		}
		if err := writer.WriteRecord(record.Bytes(data[offset:end])); err != nil {
			if store != nil {
				store.SaveSession(writer.Session())
			}
			fmt.Fprintf(os.Stderr, "write record: %v\n", err)
			os.Exit(1)
		}
		if store != nil {
			if err := store.SaveSession(writer.Session()); err != nil {
				fmt.Fprintf(os.Stderr, "persist session: %v\n", err)
				os.Exit(1)
			}
		}
	}

	manifest, err := writer.Close()
	if err != nil {
		if store != nil {
			store.SaveSession(writer.Session())
		}
		fmt.Fprintf(os.Stderr, "close archive writer: %v\n", err)
		os.Exit(1)
	}

	if parity != nil {
		if err := parity.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "flush trailing parity group: %v\n", err)
			os.Exit(1)
		}
	}

	if err := service.PersistManifest(*manifestDir, manifest); err != nil {
		fmt.Fprintf(os.Stderr, "persist manifest: %v\n", err)
		os.Exit(1)
	}

	registry.Update(writer.Session())
	if store != nil {
		if err := store.SaveSession(writer.Session()); err != nil {
			fmt.Fprintf(os.Stderr, "persist session: %v\n", err)
			os.Exit(1)
		}
	}

	log.ArchiveCompleted(sessionID, manifest.ChunkCount, time.Since(start), manifest.MerkleRoot != "")

	fmt.Printf("packed %q as session %q: %d bytes, %d chunks, root %s\n",
		inputPath, sessionID, len(data), manifest.ChunkCount, manifest.MerkleRoot)
}

func unpackCmd(args []string) {
	fs := flag.NewFlagSet("unpack", flag.ExitOnError)
	dbPath := fs.String("db", "cas.db", "path to the BoltDB chunk store")
	manifestDir := fs.String("manifests", "manifests", "directory the manifest was persisted under")
	passphrase := fs.String("passphrase", "", "decrypt chunks with this passphrase (must match what pack used)")
	stateDB := fs.String("state-db", "", "path to a SQLite database for session/presence bookkeeping (empty disables persistence and resume)")
	corruptByteAt := fs.Int64("corrupt-byte-at", -1, "invert the first byte of whichever chunk holds this byte offset of the archive's record stream (counted over the manifest's chunk lengths), to exercise the robust unpacker's resync path (-1 disables)")
	dropChunk := fs.Int("drop-chunk", -1, "pretend the chunk at this 0-based manifest index can never be fetched, forcing a resync (-1 disables)")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: archstream unpack [flags] <session-id> <output-file>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	sessionID := fs.Arg(0)
	outputPath := fs.Arg(1)

	if err := validation.ValidateStringNonEmpty(sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "invalid session id: %v\n", err)
		os.Exit(1)
	}

	manifestPath := filepath.Join(*manifestDir, sessionID+".json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read manifest: %v\n", err)
		os.Exit(1)
	}
	var manifest chunker.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		fmt.Fprintf(os.Stderr, "parse manifest: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger("archstream", "unpack", os.Stderr)
	metrics := observability.NewMetrics()
	log.ArchiveStarted(sessionID, 0, manifest.ChunkCount)
	start := time.Now()

	// The Merkle root is the whole point of recording it on pack: verify
	// the manifest's chunk list hasn't been tampered with or corrupted on
	// disk before spending any effort fetching chunks it names.
	hashes := make([]string, len(manifest.Chunks))
	for i, desc := range manifest.Chunks {
		hashes[i] = desc.Hash
	}
	computedRoot, err := chunker.ComputeMerkleRoot(hashes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compute merkle root: %v\n", err)
		os.Exit(1)
	}
	computedBytes, err := hex.DecodeString(computedRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode computed merkle root: %v\n", err)
		os.Exit(1)
	}
	expectedBytes, err := hex.DecodeString(manifest.MerkleRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode manifest merkle root: %v\n", err)
		os.Exit(1)
	}

	verifier := manager.NewManifestVerifier()
	verification := verifier.CreateVerificationResult(sessionID, computedBytes, expectedBytes)
	metrics.RecordMerkleVerification(verification.Status == manager.VerificationSuccess)
	if verification.Status != manager.VerificationSuccess {
		fmt.Fprintf(os.Stderr, "manifest verification failed: %s (computed %x, expected %x)\n",
			verification.Status, computedBytes, expectedBytes)
		os.Exit(1)
	}

	bolt, err := chunkstore.OpenBoltSink(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open chunk store: %v\n", err)
		os.Exit(1)
	}
	defer bolt.Close()

	var keys *crypto.SessionKeys
	if *passphrase != "" {
		keys, err = archiveKeysFor(*passphrase, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "derive archive keys: %v\n", err)
			os.Exit(1)
		}
	}

	var store *manager.PersistentStore
	var presenceStore *manager.PresenceStore
	if *stateDB != "" {
		store, err = manager.NewPersistentStore(*stateDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open state db: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		presenceStore = manager.NewPresenceStore(store.DB())
	}

	reader := service.NewArchiveReader(sessionID, unpacker.AcceptAll, int64(manifest.ChunkCount), service.DefaultRetryPolicy(), nil)
	reader.Metrics = metrics

	resuming := false
	if store != nil {
		if err := store.SaveSession(reader.Session()); err != nil {
			fmt.Fprintf(os.Stderr, "persist session: %v\n", err)
			os.Exit(1)
		}
	}
	if presenceStore != nil {
		if saved, err := presenceStore.Load(sessionID, int64(manifest.ChunkCount)); err == nil {
			reader.RestorePresence(saved)
			resuming = true
		} else if err != manager.ErrPresenceNotFound {
			fmt.Fprintf(os.Stderr, "load chunk presence: %v\n", err)
			os.Exit(1)
		}
	}

	// -corrupt-byte-at names a byte offset into the archive's encoded record
	// stream, counted over the manifest's chunk lengths (each record's
	// framing bytes included, so it runs ahead of the original input
	// offset); translate it to the manifest chunk that holds it.
	corruptChunkIdx := -1
	if *corruptByteAt >= 0 {
		var cum int64
		for i, desc := range manifest.Chunks {
			if *corruptByteAt < cum+int64(desc.Length) {
				corruptChunkIdx = i
				break
			}
			cum += int64(desc.Length)
		}
		if corruptChunkIdx == -1 {
			fmt.Fprintf(os.Stderr, "-corrupt-byte-at %d is past the end of the archive (%d bytes)\n", *corruptByteAt, cum)
			os.Exit(1)
		}
	}

	fetch := func(id string) ([]byte, error) {
		data, found, err := bolt.GetChunk(id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("chunk %s not found", id)
		}
		return data, nil
	}

	openFlags := os.O_WRONLY | os.O_CREATE
	if resuming {
		openFlags |= os.O_APPEND
	} else {
		openFlags |= os.O_TRUNC
	}
	out, err := os.OpenFile(outputPath, openFlags, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open output: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	for i, desc := range manifest.Chunks {
		idx := int64(i)

		if *dropChunk == i {
			// Simulate a chunk the store will never produce, forcing the
			// retry policy to exhaust and the reader into Resyncing.
			if err := reader.FetchChunk(idx, desc.Hash, func(string) ([]byte, error) {
				return nil, fmt.Errorf("simulated: chunk %d dropped by -drop-chunk", i)
			}); err != nil {
				fmt.Fprintf(os.Stderr, "fetch chunk %d: %v (continuing past simulated drop)\n", i, err)
			}
			if presenceStore != nil {
				presenceStore.Save(reader.Presence())
			}
			continue
		}

		chunkFetch := fetch
		if keys != nil {
			chunkIndex := uint32(i)
			chunkFetch = func(id string) ([]byte, error) {
				ciphertext, err := fetch(id)
				if err != nil {
					return nil, err
				}
				return crypto.DecryptChunk(keys, chunkIndex, ciphertext)
			}
		}
		if i == corruptChunkIdx {
			inner := chunkFetch
			chunkFetch = func(id string) ([]byte, error) {
				data, err := inner(id)
				if err != nil {
					return nil, err
				}
				corrupted := append([]byte(nil), data...)
				corrupted[0] ^= 0xff
				return corrupted, nil
			}
		}

		if err := reader.FetchChunk(idx, desc.Hash, chunkFetch); err != nil {
			fmt.Fprintf(os.Stderr, "fetch chunk %d: %v\n", i, err)
			os.Exit(1)
		}
		if presenceStore != nil {
			if err := presenceStore.Save(reader.Presence()); err != nil {
				fmt.Fprintf(os.Stderr, "persist chunk presence: %v\n", err)
				os.Exit(1)
			}
		}

		for {
			v, ok := reader.Next()
			if !ok {
				break
			}
			if v.Kind != record.KindBytes {
				continue
			}
			if _, err := out.Write(v.Bytes); err != nil {
				fmt.Fprintf(os.Stderr, "write output: %v\n", err)
				os.Exit(1)
			}
		}
	}

	fetched, total := reader.Presence().GetProgress()
	reader.Finish()
	if store != nil {
		if err := store.SaveSession(reader.Session()); err != nil {
			fmt.Fprintf(os.Stderr, "persist session: %v\n", err)
			os.Exit(1)
		}
	}

	log.ArchiveCompleted(sessionID, int(total), time.Since(start), fetched == total)
	fmt.Printf("unpacked session %q to %q: %d/%d chunks recovered (merkle root verified)\n", sessionID, outputPath, fetched, total)
}
