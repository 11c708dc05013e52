package wallet

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sort"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mrz1836/sigilvault/internal/record"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

// exportFormatVersion is the only version this codec writes or accepts.
const exportFormatVersion uint32 = 0

// DefaultExportChunkSize is the default plaintext chunk size, in
// bytes, for a new export.
const DefaultExportChunkSize = 64 * 1024

// ExportOptions configures an Export call.
type ExportOptions struct {
	Passphrase string
	Method     walletcrypto.KeyDerivationMethod
	ChunkSize  uint32
}

// Export streams the wallet's full record set to dst as a sealed,
// chunked archive: header, body (independently AEAD-sealed chunks of
// ChunkSize plaintext bytes each), trailer (zero-length EOF chunk plus
// a 32-byte HMAC over the header and every ciphertext chunk).
//
// Records are sorted into (type, name) order before serialization, per
// §4.6; this buffers the wallet's decrypted records in memory for the
// sort, but each chunk is still sealed independently as it is emitted,
// so only the chunk itself — not the whole plaintext stream — is held
// in ciphertext form at once.
func (w *Wallet) Export(ctx context.Context, dst io.Writer, opts ExportOptions) error {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultExportChunkSize
	}

	var salt []byte
	if opts.Method != walletcrypto.Raw {
		s, err := walletcrypto.NewSalt()
		if err != nil {
			return err
		}
		salt = s
	}

	masterKey, err := walletcrypto.DeriveMasterKey(opts.Passphrase, opts.Method, salt)
	if err != nil {
		return err
	}
	defer masterKey.Destroy()

	aead, err := chacha20poly1305.New(masterKey.Bytes())
	if err != nil {
		return walleterr.Wrap(walleterr.ErrEncryption, "constructing export AEAD: %v", err)
	}

	baseNonce, err := walletcrypto.RandomBytes(aead.NonceSize())
	if err != nil {
		return err
	}

	header := encodeExportHeader(opts.Method, baseNonce, salt, opts.ChunkSize)
	mac := hmac.New(sha256.New, exportHMACKey(masterKey))
	mac.Write(header)
	if _, err := dst.Write(header); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "writing export header: %v", err)
	}

	records, err := w.orderedRecords(ctx)
	if err != nil {
		return err
	}

	packer := &chunkPacker{chunkSize: int(opts.ChunkSize), dst: dst, aead: aead, baseNonce: baseNonce, mac: mac}

	if err := writeUint32(packer, uint32(len(records))); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeFramedRecord(packer, rec); err != nil {
			return err
		}
	}
	if err := packer.Flush(); err != nil {
		return err
	}

	if _, err := dst.Write(mac.Sum(nil)); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "writing export trailer HMAC: %v", err)
	}
	return nil
}

func (w *Wallet) orderedRecords(ctx context.Context) ([]record.Record, error) {
	it, err := w.searchAll(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var records []record.Record
	for it.Next(ctx) {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Type != records[j].Type {
			return records[i].Type < records[j].Type
		}
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// exportHMACKey derives the trailer MAC key from the export Master
// Key, keeping it distinct from the AEAD encryption key even though
// both ultimately trace back to the same passphrase-derived secret.
func exportHMACKey(masterKey *walletcrypto.SecureBytes) []byte {
	mac := hmac.New(sha256.New, masterKey.Bytes())
	mac.Write([]byte("sigilvault-export-hmac"))
	return mac.Sum(nil)
}

func encodeExportHeader(method walletcrypto.KeyDerivationMethod, nonce, salt []byte, chunkSize uint32) []byte {
	var buf bytes.Buffer
	_ = writeUint32(&buf, exportFormatVersion)
	_ = writeUint32(&buf, uint32(method))
	_ = writeUint32(&buf, uint32(len(nonce)))
	buf.Write(nonce)
	_ = writeUint32(&buf, uint32(len(salt)))
	buf.Write(salt)
	_ = writeUint32(&buf, chunkSize)
	return buf.Bytes()
}

func writeUint32(dst io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := dst.Write(b[:])
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "writing length-prefixed field: %v", err)
	}
	return nil
}

func writeFramed(dst io.Writer, data []byte) error {
	if err := writeUint32(dst, uint32(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := dst.Write(data); err != nil {
		return walleterr.Wrap(walleterr.ErrIO, "writing framed field: %v", err)
	}
	return nil
}

func writeFramedRecord(dst io.Writer, rec record.Record) error {
	if err := writeFramed(dst, []byte(rec.Type)); err != nil {
		return err
	}
	if err := writeFramed(dst, []byte(rec.Name)); err != nil {
		return err
	}
	if err := writeFramed(dst, rec.Value); err != nil {
		return err
	}

	names := make([]string, 0, len(rec.Tags))
	for name := range rec.Tags {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := writeUint32(dst, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := writeFramed(dst, []byte(name)); err != nil {
			return err
		}
		if err := writeFramed(dst, []byte(rec.Tags[name])); err != nil {
			return err
		}
	}
	return nil
}

// chunkPacker buffers a plaintext byte stream and seals it into fixed
// size chunks as the buffer fills, writing each sealed chunk to dst
// immediately so only one chunk's worth of ciphertext exists at a time.
type chunkPacker struct {
	buf       bytes.Buffer
	chunkSize int
	dst       io.Writer
	aead      cipher.AEAD
	baseNonce []byte
	index     uint32
	mac       interface{ Write([]byte) (int, error) }
}

func (p *chunkPacker) Write(b []byte) (int, error) {
	p.buf.Write(b)
	for p.buf.Len() >= p.chunkSize {
		chunk := make([]byte, p.chunkSize)
		if _, err := p.buf.Read(chunk); err != nil {
			return 0, walleterr.Wrap(walleterr.ErrIO, "draining export chunk buffer: %v", err)
		}
		if err := p.sealAndWrite(chunk); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// Flush seals any remaining partial chunk and writes the trailing
// zero-length EOF marker chunk.
func (p *chunkPacker) Flush() error {
	if p.buf.Len() > 0 {
		rest := append([]byte(nil), p.buf.Bytes()...)
		p.buf.Reset()
		if err := p.sealAndWrite(rest); err != nil {
			return err
		}
	}
	return writeFramed(p.dst, nil)
}

func (p *chunkPacker) sealAndWrite(plaintext []byte) error {
	nonce := chunkNonce(p.baseNonce, p.index)
	p.index++

	ciphertext := p.aead.Seal(nil, nonce, plaintext, nil)
	if err := writeFramed(p.dst, ciphertext); err != nil {
		return err
	}
	p.mac.Write(ciphertext)
	return nil
}

// chunkNonce treats baseNonce as a big-endian counter and returns
// baseNonce+index, so each chunk gets a distinct nonce derived from
// the file's single random seed nonce without storing one nonce per chunk.
func chunkNonce(baseNonce []byte, index uint32) []byte {
	nonce := make([]byte, len(baseNonce))
	copy(nonce, baseNonce)

	carry := uint64(index)
	for i := len(nonce) - 1; i >= 0 && carry > 0; i-- {
		sum := uint64(nonce[i]) + carry
		nonce[i] = byte(sum)
		carry = sum >> 8
	}
	return nonce
}
