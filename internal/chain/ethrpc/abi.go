package ethrpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

const wordSize = 32

// eventTopic returns the topic hash for a canonical event signature,
// e.g. "BatchCreated(uint256,uint256,address,uint256)".
func eventTopic(signature string) string {
	return "0x" + hex.EncodeToString(keccak256([]byte(signature)))
}

// methodSelector returns the 4-byte call selector for a function signature.
func methodSelector(signature string) []byte {
	return keccak256([]byte(signature))[:4]
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// decodeHex strips an optional 0x prefix and decodes hex bytes.
func decodeHex(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "0x")
	if len(value)%2 != 0 {
		value = "0" + value
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return raw, nil
}

// decodeHexUint parses a hex quantity string ("0x1a") into a uint64.
func decodeHexUint(value string) (uint64, error) {
	value = strings.TrimPrefix(value, "0x")
	if value == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	n := new(big.Int)
	if _, ok := n.SetString(value, 16); !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", value)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("hex quantity %q overflows uint64", value)
	}
	return n.Uint64(), nil
}

// wordReader decodes ABI-encoded words from raw call or log data.
type wordReader struct {
	data []byte
}

func newWordReader(hexData string) (wordReader, error) {
	raw, err := decodeHex(hexData)
	if err != nil {
		return wordReader{}, err
	}
	return wordReader{data: raw}, nil
}

func (r wordReader) word(index int) ([]byte, error) {
	start := index * wordSize
	end := start + wordSize
	if end > len(r.data) {
		return nil, fmt.Errorf("abi data too short: want word %d, have %d bytes", index, len(r.data))
	}
	return r.data[start:end], nil
}

// uintWord decodes the word at index as an unsigned integer.
func (r wordReader) uintWord(index int) (uint64, error) {
	raw, err := r.word(index)
	if err != nil {
		return 0, err
	}
	n := new(big.Int).SetBytes(raw)
	if !n.IsUint64() {
		return 0, fmt.Errorf("abi word %d overflows uint64", index)
	}
	return n.Uint64(), nil
}

// intWord decodes the word at index as a two's-complement signed integer.
func (r wordReader) intWord(index int) (int64, error) {
	raw, err := r.word(index)
	if err != nil {
		return 0, err
	}
	n := new(big.Int).SetBytes(raw)
	if raw[0]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), uint(wordSize*8))
		n.Sub(n, max)
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("abi word %d overflows int64", index)
	}
	return n.Int64(), nil
}

// boolWord decodes the word at index as a boolean.
func (r wordReader) boolWord(index int) (bool, error) {
	n, err := r.uintWord(index)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// bytes32Word returns the word at index as a 0x-prefixed hex string.
func (r wordReader) bytes32Word(index int) (string, error) {
	raw, err := r.word(index)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}

// addressWord decodes the word at index as a checksummed-length address.
func (r wordReader) addressWord(index int) (string, error) {
	raw, err := r.word(index)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw[12:]), nil
}

// stringAt reads the dynamic string whose offset word sits at headIndex,
// with offsets relative to the word at base.
func (r wordReader) stringAt(headIndex, base int) (string, error) {
	offset, err := r.uintWord(headIndex)
	if err != nil {
		return "", err
	}
	start := base*wordSize + int(offset)
	if start+wordSize > len(r.data) {
		return "", fmt.Errorf("abi string offset %d out of range", offset)
	}
	length := new(big.Int).SetBytes(r.data[start : start+wordSize])
	if !length.IsUint64() || int(length.Uint64()) > len(r.data) {
		return "", fmt.Errorf("abi string length out of range")
	}
	end := start + wordSize + int(length.Uint64())
	if end > len(r.data) {
		return "", fmt.Errorf("abi string data truncated")
	}
	return string(r.data[start+wordSize : end]), nil
}

// topicUint decodes an indexed uint256 topic.
func topicUint(topic string) (uint64, error) {
	return decodeHexUint(topic)
}

// topicAddress decodes an indexed address topic.
func topicAddress(topic string) (string, error) {
	raw, err := decodeHex(topic)
	if err != nil {
		return "", err
	}
	if len(raw) != wordSize {
		return "", fmt.Errorf("address topic must be %d bytes, got %d", wordSize, len(raw))
	}
	return "0x" + hex.EncodeToString(raw[12:]), nil
}

// encodeUintArg encodes a uint64 as a 32-byte call argument.
func encodeUintArg(value uint64) []byte {
	word := make([]byte, wordSize)
	new(big.Int).SetUint64(value).FillBytes(word)
	return word
}
