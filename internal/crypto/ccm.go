package crypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"errors"
)

// AES-CCM (RFC 3610), needed to read containers produced by the legacy
// 1.x/2.x clients. The length field L is chosen the way sjcl does it:
// start at 2 octets and grow until the message length fits, then truncate
// the stored IV down to the 15-L byte nonce.

var errCCMAuth = errors.New("ccm: message authentication failed")

func ccmLengthSize(n int) int {
	l := 2
	for l < 4 && n>>(8*uint(l)) != 0 {
		l++
	}
	return l
}

func ccmSeal(block cipher.Block, iv, plaintext, aad []byte, tagSize int) ([]byte, error) {
	if tagSize != 8 && tagSize != 12 && tagSize != 16 {
		return nil, errors.New("ccm: invalid tag size")
	}
	l := ccmLengthSize(len(plaintext))
	if len(iv) < 15-l {
		return nil, errors.New("ccm: iv too short")
	}
	nonce := iv[:15-l]

	tag := ccmTag(block, nonce, plaintext, aad, tagSize, l)

	out := make([]byte, len(plaintext)+tagSize)
	ccmCTR(block, nonce, l, 1, plaintext, out[:len(plaintext)])

	// Encrypt the tag with counter block zero.
	s0 := make([]byte, block.BlockSize())
	ctr0 := ccmCounterBlock(nonce, l, 0)
	block.Encrypt(s0, ctr0)
	for i := 0; i < tagSize; i++ {
		out[len(plaintext)+i] = tag[i] ^ s0[i]
	}
	return out, nil
}

func ccmOpen(block cipher.Block, iv, ciphertext, aad []byte, tagSize int) ([]byte, error) {
	if tagSize != 8 && tagSize != 12 && tagSize != 16 {
		return nil, errors.New("ccm: invalid tag size")
	}
	if len(ciphertext) < tagSize {
		return nil, errCCMAuth
	}
	body := ciphertext[:len(ciphertext)-tagSize]
	gotTag := ciphertext[len(ciphertext)-tagSize:]

	l := ccmLengthSize(len(body))
	if len(iv) < 15-l {
		return nil, errors.New("ccm: iv too short")
	}
	nonce := iv[:15-l]

	plaintext := make([]byte, len(body))
	ccmCTR(block, nonce, l, 1, body, plaintext)

	expected := ccmTag(block, nonce, plaintext, aad, tagSize, l)
	s0 := make([]byte, block.BlockSize())
	block.Encrypt(s0, ccmCounterBlock(nonce, l, 0))
	tag := make([]byte, tagSize)
	for i := range tag {
		tag[i] = expected[i] ^ s0[i]
	}
	if subtle.ConstantTimeCompare(tag, gotTag) != 1 {
		Zero(plaintext)
		return nil, errCCMAuth
	}
	return plaintext, nil
}

// ccmTag computes the CBC-MAC over B0, the encoded AAD and the padded
// plaintext.
func ccmTag(block cipher.Block, nonce, plaintext, aad []byte, tagSize, l int) []byte {
	bs := block.BlockSize()

	b0 := make([]byte, bs)
	b0[0] = byte(((tagSize - 2) / 2) << 3)
	b0[0] |= byte(l - 1)
	if len(aad) > 0 {
		b0[0] |= 0x40
	}
	copy(b0[1:], nonce)
	n := len(plaintext)
	for i := 0; i < l; i++ {
		b0[bs-1-i] = byte(n >> (8 * uint(i)))
	}

	mac := make([]byte, bs)
	xorBlockEncrypt(block, mac, b0)

	if len(aad) > 0 {
		// Length-prefixed AAD, padded to the block size. Lengths of
		// 2^16-2^8 and above use the 6 byte encoding.
		var hdr []byte
		if len(aad) < 0xff00 {
			hdr = []byte{byte(len(aad) >> 8), byte(len(aad))}
		} else {
			hdr = []byte{0xff, 0xfe,
				byte(len(aad) >> 24), byte(len(aad) >> 16),
				byte(len(aad) >> 8), byte(len(aad))}
		}
		buf := append(hdr, aad...)
		for len(buf)%bs != 0 {
			buf = append(buf, 0)
		}
		for i := 0; i < len(buf); i += bs {
			xorBlockEncrypt(block, mac, buf[i:i+bs])
		}
	}

	for i := 0; i < len(plaintext); i += bs {
		chunk := make([]byte, bs)
		copy(chunk, plaintext[i:min(i+bs, len(plaintext))])
		xorBlockEncrypt(block, mac, chunk)
	}
	return mac
}

func xorBlockEncrypt(block cipher.Block, mac, in []byte) {
	for i := range mac {
		mac[i] ^= in[i]
	}
	block.Encrypt(mac, mac)
}

func ccmCounterBlock(nonce []byte, l, counter int) []byte {
	blk := make([]byte, 16)
	blk[0] = byte(l - 1)
	copy(blk[1:], nonce)
	for i := 0; i < l; i++ {
		blk[15-i] = byte(counter >> (8 * uint(i)))
	}
	return blk
}

// ccmCTR applies CTR mode keystream starting at the given counter.
func ccmCTR(block cipher.Block, nonce []byte, l, start int, in, out []byte) {
	bs := block.BlockSize()
	ks := make([]byte, bs)
	for i := 0; i < len(in); i += bs {
		block.Encrypt(ks, ccmCounterBlock(nonce, l, start+i/bs))
		for j := 0; j < bs && i+j < len(in); j++ {
			out[i+j] = in[i+j] ^ ks[j]
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
