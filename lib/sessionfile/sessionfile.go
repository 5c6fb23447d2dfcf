// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionfile persists a client session between runs: the
// authenticated identity, the access token, the sync cursor, and the
// uploaded-filter memo.
//
// The on-disk format is a small header (magic, format version,
// compression tag, body size) followed by a deterministically encoded
// CBOR body, compressed when that pays off. The whole blob can
// optionally be age-encrypted to one or more X25519 recipients; an
// encrypted file is recognized on load by the absence of the plain
// magic. Writes are atomic: temp file, fsync, rename.
package sessionfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/mx/lib/ref"
	"github.com/bureau-foundation/mx/lib/secret"
)

// State is the persisted session. AccessToken crosses the disk
// boundary as a string; callers move it into a secret.Buffer
// immediately after Load and pass token.String() only at Save.
type State struct {
	UserID      ref.UserID        `cbor:"user_id"`
	DeviceID    string            `cbor:"device_id,omitempty"`
	AccessToken string            `cbor:"access_token"`
	NextBatch   string            `cbor:"next_batch,omitempty"`
	FilterIDs   map[string]string `cbor:"filter_ids,omitempty"`
}

// magic identifies a plaintext session file. Encrypted files start
// with the age format header instead.
const magic = "MXSF"

// formatVersion is bumped on incompatible layout changes.
const formatVersion = 1

// headerSize is magic (4) + version (1) + compression tag (1) +
// body size (4, big endian).
const headerSize = 10

// compressionTag identifies the body compression. Stored on disk;
// the values are format constants.
type compressionTag uint8

const (
	compressionNone compressionTag = 0
	compressionLZ4  compressionTag = 1
	compressionZstd compressionTag = 2
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same session always
// produces identical bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields, so newer
// writers stay readable.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// ref.UserID implements encoding.TextMarshaler; without this it
	// would serialize as an empty CBOR map and lose the identity.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("sessionfile: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("sessionfile: CBOR decoder initialization failed: " + err.Error())
	}
}

// zstdEncoder and zstdDecoder are reused across calls. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("sessionfile: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("sessionfile: zstd decoder initialization failed: " + err.Error())
	}
}

// compressThreshold is the body size below which compression is not
// attempted. Session files are usually this small.
const compressThreshold = 512

// Save writes the session to path with mode 0600, atomically: the
// data lands in a temp file in the same directory, is fsynced, and is
// renamed into place, so a crashed save never corrupts an existing
// session. With recipients, the whole blob is age-encrypted to the
// given X25519 public keys (age1... format).
func Save(path string, state *State, recipients ...string) error {
	body, err := encMode.Marshal(state)
	if err != nil {
		return fmt.Errorf("sessionfile: encoding session: %w", err)
	}

	compressed, tag := compress(body)

	blob := make([]byte, 0, headerSize+len(compressed))
	blob = append(blob, magic...)
	blob = append(blob, formatVersion, byte(tag))
	blob = binary.BigEndian.AppendUint32(blob, uint32(len(body)))
	blob = append(blob, compressed...)

	if len(recipients) > 0 {
		blob, err = encrypt(blob, recipients)
		if err != nil {
			return err
		}
	}

	return writeAtomic(path, blob)
}

// Load reads a session from path. For an encrypted file, identity is
// the age X25519 private key; for a plaintext file it is unused and
// may be nil. A missing file returns an error wrapping os.ErrNotExist
// (testable with errors.Is).
func Load(path string, identity *secret.Buffer) (*State, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: reading %s: %w", path, err)
	}

	if !bytes.HasPrefix(blob, []byte(magic)) {
		if identity == nil {
			return nil, fmt.Errorf("sessionfile: %s is encrypted or not a session file", path)
		}
		blob, err = decrypt(blob, identity)
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(blob, []byte(magic)) {
			return nil, fmt.Errorf("sessionfile: %s: decrypted content is not a session file", path)
		}
	}

	if len(blob) < headerSize {
		return nil, fmt.Errorf("sessionfile: %s: truncated header", path)
	}
	if blob[4] != formatVersion {
		return nil, fmt.Errorf("sessionfile: %s: unsupported format version %d", path, blob[4])
	}
	tag := compressionTag(blob[5])
	bodySize := int(binary.BigEndian.Uint32(blob[6:headerSize]))

	body, err := decompress(blob[headerSize:], tag, bodySize)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: %s: %w", path, err)
	}

	var state State
	if err := decMode.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("sessionfile: %s: decoding session: %w", path, err)
	}
	return &state, nil
}

// compress picks a compression for the body: small bodies stay
// uncompressed, larger ones take zstd when the ratio is convincing,
// lz4 when it is marginal, none when the data does not compress.
func compress(body []byte) ([]byte, compressionTag) {
	if len(body) < compressThreshold {
		return body, compressionNone
	}

	compressed := zstdEncoder.EncodeAll(body, nil)
	ratio := float64(len(body)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return compressed, compressionZstd
	case ratio >= 1.1:
		bound := lz4.CompressBlockBound(len(body))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(body, destination, nil)
		if err != nil || written == 0 || written >= len(body) {
			return body, compressionNone
		}
		return destination[:written], compressionLZ4
	default:
		return body, compressionNone
	}
}

func decompress(data []byte, tag compressionTag, bodySize int) ([]byte, error) {
	switch tag {
	case compressionNone:
		if len(data) != bodySize {
			return nil, fmt.Errorf("body is %d bytes, header says %d", len(data), bodySize)
		}
		return data, nil

	case compressionLZ4:
		body := make([]byte, bodySize)
		read, err := lz4.UncompressBlock(data, body)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != bodySize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, bodySize)
		}
		return body, nil

	case compressionZstd:
		body, err := zstdDecoder.DecodeAll(data, make([]byte, 0, bodySize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(body) != bodySize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(body), bodySize)
		}
		return body, nil

	default:
		return nil, fmt.Errorf("unknown compression tag %d", tag)
	}
}

func encrypt(blob []byte, recipientKeys []string) ([]byte, error) {
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("sessionfile: parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(blob); err != nil {
		return nil, fmt.Errorf("sessionfile: encrypting session: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sessionfile: finalizing encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

func decrypt(blob []byte, identity *secret.Buffer) ([]byte, error) {
	// The private key becomes a string at the API boundary; the heap
	// copy is brief and call-scoped.
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sessionfile: parsing identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(blob), parsed)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: decrypting session: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sessionfile: reading decrypted session: %w", err)
	}
	return plaintext, nil
}

// writeAtomic writes data to path via a temp file in the same
// directory: write, fsync, close, rename, then fsync the directory so
// the rename survives power loss. Readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("sessionfile: creating %s: %w", temporaryPath, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("sessionfile: writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("sessionfile: syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("sessionfile: closing %s: %w", temporaryPath, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("sessionfile: renaming into %s: %w", path, err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}
