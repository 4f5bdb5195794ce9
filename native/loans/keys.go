package loans

import "encoding/binary"

func enginePrefix(engine [20]byte, kind string) []byte {
	key := make([]byte, 0, len("loans/")+20+1+len(kind)+1+32)
	key = append(key, "loans/"...)
	key = append(key, engine[:]...)
	key = append(key, '/')
	key = append(key, kind...)
	return append(key, '/')
}

func loanKey(engine [20]byte, id uint64) []byte {
	return binary.BigEndian.AppendUint64(enginePrefix(engine, "loan"), id)
}

func identifierKey(engine [20]byte, identifier [32]byte) []byte {
	return append(enginePrefix(engine, "identifier"), identifier[:]...)
}

func loanCounterKey(engine [20]byte) []byte {
	return enginePrefix(engine, "next-id")
}
