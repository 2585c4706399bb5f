package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkMetaHalo(t *testing.T) {
	m := WorkMeta{Width: 4, InteriorStartRow: 3, InteriorRowCount: 2, SendStartRow: 2, SendRowCount: 4}
	assert.Equal(t, 1, m.HaloTop())
	assert.Equal(t, 1, m.HaloBottom())
	assert.Equal(t, 16, m.PayloadSize())
	assert.NoError(t, m.Validate())
}

func TestWorkMetaValidate(t *testing.T) {
	tests := []struct {
		name string
		meta WorkMeta
		ok   bool
	}{
		{"top edge", WorkMeta{Width: 3, InteriorRowCount: 2, SendRowCount: 3}, true},
		{"empty", WorkMeta{Width: 3, InteriorStartRow: 5, SendStartRow: 5}, true},
		{"negative width", WorkMeta{Width: -1}, false},
		{"interior outside send", WorkMeta{Width: 3, InteriorStartRow: 0, InteriorRowCount: 3, SendStartRow: 1, SendRowCount: 3}, false},
		{"halo too wide", WorkMeta{Width: 3, InteriorStartRow: 2, InteriorRowCount: 1, SendStartRow: 0, SendRowCount: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestImageValidate(t *testing.T) {
	assert.NoError(t, NewImage(3, 2).Validate())
	assert.ErrorIs(t, Image{Width: 3, Height: 2, Pix: make([]byte, 5)}.Validate(), ErrInvalidImage)
}

func TestPartitionHalo(t *testing.T) {
	p := Partition{Worker: 2, StartRow: 3, RowCount: 3, SendStartRow: 2, SendRowCount: 4}
	assert.Equal(t, 1, p.HaloTop())
	assert.Equal(t, 0, p.HaloBottom())
}
