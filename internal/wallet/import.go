package wallet

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mrz1836/sigilvault/internal/record"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// ArchiveHeader is the phase-1 result of ReadHeader: the archive's
// header has been parsed (I/O only, per spec.md §4.7 — no Master Key
// computation happens here), so the caller can derive the import
// Master Key from Method/Salt off the service's call path before
// calling PreparseWithKey.
type ArchiveHeader struct {
	Method    walletcrypto.KeyDerivationMethod
	Salt      []byte
	ChunkSize uint32

	headerBytes []byte
	nonce       []byte
	body        io.Reader
}

// PendingImport is the phase-2-ready state: the archive header has
// been parsed and the import Master Key derived, but no record has
// been written yet. Callers carry this value to Finish.
type PendingImport struct {
	Method    walletcrypto.KeyDerivationMethod
	ChunkSize uint32

	headerBytes []byte
	nonce       []byte
	masterKey   *walletcrypto.SecureBytes
	body        io.Reader
}

// Destroy zeros the derived import Master Key. Callers must call this
// once Finish has returned (success or failure) or if the pending
// import is abandoned.
func (p *PendingImport) Destroy() {
	if p == nil {
		return
	}
	p.masterKey.Destroy()
}

// ReadHeader reads an export archive's header from src, without
// deriving any key. src must continue to yield the body (chunks +
// trailer) when PreparseWithKey/Finish later read from the returned
// ArchiveHeader.
func ReadHeader(src io.Reader) (*ArchiveHeader, error) {
	header, method, nonce, salt, chunkSize, err := readExportHeader(src)
	if err != nil {
		return nil, err
	}

	return &ArchiveHeader{
		Method:      method,
		Salt:        salt,
		ChunkSize:   chunkSize,
		headerBytes: header,
		nonce:       nonce,
		body:        src,
	}, nil
}

// PreparseWithKey pairs an already-derived import Master Key with a
// header ReadHeader parsed earlier, producing the PendingImport Finish
// consumes. It does no derivation itself: the caller derives masterKey
// from h.Method/h.Salt between ReadHeader and this call, per spec.md
// §4.7's two-phase contract.
func PreparseWithKey(h *ArchiveHeader, masterKey *walletcrypto.SecureBytes) *PendingImport {
	return &PendingImport{
		Method:      h.Method,
		ChunkSize:   h.ChunkSize,
		headerBytes: h.headerBytes,
		nonce:       h.nonce,
		masterKey:   masterKey,
		body:        h.body,
	}
}

// Preparse reads an export archive's header from src and derives the
// import Master Key from importPassphrase in one step, without
// touching any record data. It is a convenience wrapper over
// ReadHeader/PreparseWithKey for callers that don't need the
// directive split (e.g. tests exercising Finish directly).
func Preparse(src io.Reader, importPassphrase string) (*PendingImport, error) {
	h, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}

	masterKey, err := walletcrypto.DeriveMasterKey(importPassphrase, h.Method, h.Salt)
	if err != nil {
		return nil, err
	}

	return PreparseWithKey(h, masterKey), nil
}

// Finish verifies and decrypts the archive body, writing each record
// into dest through the normal Add path (so every record is
// re-encrypted under dest's own Keys). It consumes pending.masterKey;
// callers must not reuse a PendingImport across two Finish calls.
func Finish(ctx context.Context, pending *PendingImport, dest *Wallet) error {
	defer pending.Destroy()

	aead, err := chacha20poly1305.New(pending.masterKey.Bytes())
	if err != nil {
		return walleterr.Wrap(walleterr.ErrEncryption, "constructing import AEAD: %v", err)
	}

	mac := hmac.New(sha256.New, exportHMACKey(pending.masterKey))
	mac.Write(pending.headerBytes)

	unpacker := &chunkUnpacker{src: pending.body, aead: aead, baseNonce: pending.nonce, mac: mac}

	total, err := readUint32(unpacker)
	if err != nil {
		return err
	}

	for i := uint32(0); i < total; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readFramedRecord(unpacker)
		if err != nil {
			return err
		}
		if err := dest.Add(ctx, rec); err != nil {
			return err
		}
	}

	for !unpacker.done {
		if err := unpacker.fill(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
	}

	if !hmac.Equal(mac.Sum(nil), unpacker.trailerHMAC) {
		return walleterr.WithDetails(walleterr.ErrEncryption, map[string]string{
			"reason": "export trailer HMAC mismatch",
		})
	}
	return nil
}

func readExportHeader(src io.Reader) (header []byte, method walletcrypto.KeyDerivationMethod, nonce, salt []byte, chunkSize uint32, err error) {
	var buf bytes.Buffer
	tee := io.TeeReader(src, &buf)

	version, err := readUint32(tee)
	if err != nil {
		return nil, 0, nil, nil, 0, err
	}
	if version != exportFormatVersion {
		return nil, 0, nil, nil, 0, walleterr.WithDetails(walleterr.ErrInvalidState, map[string]string{
			"reason": "unsupported export format version",
		})
	}

	methodVal, err := readUint32(tee)
	if err != nil {
		return nil, 0, nil, nil, 0, err
	}
	method = walletcrypto.KeyDerivationMethod(methodVal)

	nonce, err = readLenPrefixedRaw(tee)
	if err != nil {
		return nil, 0, nil, nil, 0, err
	}
	salt, err = readLenPrefixedRaw(tee)
	if err != nil {
		return nil, 0, nil, nil, 0, err
	}
	chunkSize, err = readUint32(tee)
	if err != nil {
		return nil, 0, nil, nil, 0, err
	}

	return buf.Bytes(), method, nonce, salt, chunkSize, nil
}

func readUint32(src io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(src, b[:]); err != nil {
		return 0, walleterr.Wrap(walleterr.ErrIO, "reading length-prefixed field: %v", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// readLenPrefixedRaw reads a u32-length-prefixed field whose length is
// expected to be small and always present (nonce, salt), unlike
// readFramed's record-field semantics where a zero length is valid data.
func readLenPrefixedRaw(src io.Reader) ([]byte, error) {
	n, err := readUint32(src)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIO, "reading field body: %v", err)
	}
	return buf, nil
}

func readFramed(src io.Reader) ([]byte, error) {
	return readLenPrefixedRaw(src)
}

func readFramedRecord(src io.Reader) (record.Record, error) {
	typ, err := readFramed(src)
	if err != nil {
		return record.Record{}, err
	}
	name, err := readFramed(src)
	if err != nil {
		return record.Record{}, err
	}
	value, err := readFramed(src)
	if err != nil {
		return record.Record{}, err
	}

	nTags, err := readUint32(src)
	if err != nil {
		return record.Record{}, err
	}

	var tags map[string]string
	if nTags > 0 {
		tags = make(map[string]string, nTags)
		for i := uint32(0); i < nTags; i++ {
			k, err := readFramed(src)
			if err != nil {
				return record.Record{}, err
			}
			v, err := readFramed(src)
			if err != nil {
				return record.Record{}, err
			}
			tags[string(k)] = string(v)
		}
	}

	return record.Record{Type: string(typ), Name: string(name), Value: value, Tags: tags}, nil
}

// chunkUnpacker is the inverse of chunkPacker: it reads length-prefixed
// ciphertext chunks from src, authenticates and decrypts each, and
// serves the decrypted plaintext stream to readUint32/readFramed as an
// io.Reader.
type chunkUnpacker struct {
	src       io.Reader
	aead      cipher.AEAD
	baseNonce []byte
	index     uint32
	buf       bytes.Buffer
	mac       interface{ Write([]byte) (int, error) }

	done        bool
	trailerHMAC []byte
}

func (u *chunkUnpacker) Read(p []byte) (int, error) {
	for u.buf.Len() == 0 {
		if err := u.fill(); err != nil {
			return 0, err
		}
	}
	return u.buf.Read(p)
}

func (u *chunkUnpacker) fill() error {
	if u.done {
		return io.EOF
	}

	ctLen, err := readUint32(u.src)
	if err != nil {
		return err
	}

	if ctLen == 0 {
		u.done = true
		trailer := make([]byte, sha256.Size)
		if _, err := io.ReadFull(u.src, trailer); err != nil {
			return walleterr.Wrap(walleterr.ErrIO, "reading export trailer HMAC: %v", err)
		}
		u.trailerHMAC = trailer
		return io.EOF
	}

	ciphertext := make([]byte, ctLen)
	if _, err := io.ReadFull(u.src, ciphertext); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "reading export chunk: %v", err)
	}
	u.mac.Write(ciphertext)

	nonce := chunkNonce(u.baseNonce, u.index)
	u.index++

	plaintext, err := u.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return walleterr.WithDetails(walleterr.ErrEncryption, map[string]string{
			"reason": "export chunk authentication failed",
		})
	}
	u.buf.Write(plaintext)
	return nil
}
