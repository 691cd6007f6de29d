package crashdigest_test

import "encoding/binary"

// minimalDump returns a minidump holding only an amd64 system info stream
// and an empty module list.
func minimalDump() []byte {
	const (
		headerSize  = 32
		dirSize     = 2 * 12
		sysInfoRVA  = headerSize + dirSize
		sysInfoSize = 56
		modulesRVA  = sysInfoRVA + sysInfoSize
	)
	data := make([]byte, modulesRVA+4)
	le := binary.LittleEndian

	le.PutUint32(data[0:], 0x504d444d) // MDMP
	le.PutUint32(data[4:], 0xa793)
	le.PutUint32(data[8:], 2)
	le.PutUint32(data[12:], headerSize)

	le.PutUint32(data[headerSize:], 7)
	le.PutUint32(data[headerSize+4:], sysInfoSize)
	le.PutUint32(data[headerSize+8:], sysInfoRVA)
	le.PutUint32(data[headerSize+12:], 4)
	le.PutUint32(data[headerSize+16:], 4)
	le.PutUint32(data[headerSize+20:], modulesRVA)

	le.PutUint16(data[sysInfoRVA:], 9) // amd64
	return data
}
