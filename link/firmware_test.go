package link

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirmware(t *testing.T) {
	require := require.New(t)
	var fw Firmware

	require.False(fw.PDMLockStatus())
	require.Nil(fw.Info().NPDU)

	fw.UpdateFirmwareVersion("0321", "03")
	fw.UpdateHardwareVersion("2.0")
	fw.SetFlags(FirmwareFlags{WithAPSSqn: true, With8012: true})
	fw.SetPDMCommandOnly(true)
	fw.UpdatePDU(5, 7)

	info := fw.Info()
	require.Equal("0321", info.Version)
	require.Equal("03", info.MajorVersion)
	require.Equal("2.0", info.HardwareVersion)
	require.True(fw.Flags().WithAPSSqn)
	require.True(fw.Flags().With8012)
	require.False(fw.Flags().CompatibilityMode)
	require.True(fw.PDMLockStatus())
	require.Equal(5, *info.NPDU)
	require.Equal(7, *info.APDU)

	// snapshots are not affected by later updates
	fw.UpdatePDU(1, 2)
	require.Equal(5, *info.NPDU)
	require.Equal(1, *fw.Info().NPDU)
}
