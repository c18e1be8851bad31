package archiver

import "sgbackup/internal/sgb"

// Compressions lists the tar filters registered by RegisterBuiltins.
var Compressions = []Compression{CompressNone, CompressGzip, CompressBzip2, CompressXz, CompressZstd}

// RegisterBuiltins adds the zip archiver and one tar archiver per compression.
func RegisterBuiltins(reg *Registry, ignore []string, logger sgb.Logger) {
	reg.Register(NewZipArchiver(ignore, logger))
	for _, c := range Compressions {
		reg.Register(NewTarArchiver(c, ignore, logger))
	}
}

// NewDefaultRegistry returns a registry holding the built-in archivers.
func NewDefaultRegistry(standardID string, ignore []string, logger sgb.Logger) *Registry {
	reg := NewRegistry(standardID, logger)
	RegisterBuiltins(reg, ignore, logger)
	return reg
}
