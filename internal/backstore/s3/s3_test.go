// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package s3

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
)

func TestEncodeSplitsChunkNumber(t *testing.T) {
	assert.Equal(t, "00000000/00000000", encode(0))
	assert.Equal(t, "0000002a/00000000", encode(42))
	assert.Equal(t, "00000001/00000002", encode(2<<32+1))
}

func TestKeyUsesPrefix(t *testing.T) {
	s := &S3{prefix: "mirror-a/"}
	assert.Equal(t, "mirror-a/00000007/00000000", s.key(7))
}

func TestForEachChunk(t *testing.T) {
	s := &S3{chunkSize: 1024}

	type piece struct {
		chunk  int64
		length int
		within int64
	}
	var pieces []piece

	buf := make([]byte, 2560)
	err := s.forEachChunk(buf, 512, func(chunk int64, part []byte, within int64) error {
		pieces = append(pieces, piece{chunk, len(part), within})
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []piece{
		{0, 512, 512},
		{1, 1024, 0},
		{2, 1024, 0},
	}, pieces)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)))
	assert.True(t, isNotFound(awserr.New("NotFound", "missing", nil)))
	assert.False(t, isNotFound(awserr.New("AccessDenied", "denied", nil)))
	assert.False(t, isNotFound(nil))
}

func TestNewRejectsInvalidChunkSize(t *testing.T) {
	_, err := New(Options{ChunkSize: 1000})
	assert.Error(t, err)
}
