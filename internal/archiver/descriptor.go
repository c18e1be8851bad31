package archiver

import (
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/ini.v1"

	"sgbackup/internal/sgb"
)

// DescriptorSuffix is the file extension of external archiver descriptors.
const DescriptorSuffix = ".archiver"

// ParseDescriptor reads an external archiver descriptor:
//
//	[archiver]
//	name = 7z
//	executable = /usr/bin/7z
//	extension = 7z
//	altExtensions = 7zip;7-zip
//	backupArgs = a -r "${FILENAME}" "${SAVEGAME_DIR}"
//	restoreArgs = x -y "-o${SAVEGAME_ROOT}" "${FILENAME}"
//	changeDirectory = true
//	verbose = -bb1
//	multiprocessing = true
//
//	[variables]
//	NAME = value
//
// source is a file path or the raw content as []byte. Missing required keys
// yield sgb.ErrConfigInvalid.
func ParseDescriptor(source any) (sgb.ArchiverDescriptor, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
		IgnoreContinuation:      true,
	}, source)
	if err != nil {
		return sgb.ArchiverDescriptor{}, errors.Wrapf(sgb.ErrConfigInvalid, "parsing descriptor: %v", err)
	}

	sec, err := f.GetSection("archiver")
	if err != nil {
		return sgb.ArchiverDescriptor{}, errors.Wrap(sgb.ErrConfigInvalid, "missing [archiver] section")
	}

	desc := sgb.ArchiverDescriptor{
		Kind:            sgb.KindExternal,
		ID:              strings.TrimSpace(sec.Key("name").String()),
		Executable:      strings.TrimSpace(sec.Key("executable").String()),
		Extension:       strings.TrimPrefix(strings.TrimSpace(sec.Key("extension").String()), "."),
		BackupCommand:   firstKey(sec, "backupArgs", "create"),
		RestoreCommand:  firstKey(sec, "restoreArgs", "extract"),
		ChangeDirectory: sec.Key("changeDirectory").MustBool(false),
		Verbose:         sec.Key("verbose").String(),
		Cygpath:         strings.TrimSpace(sec.Key("cygpath").String()),
		Multiprocessing: sec.Key("multiprocessing").MustBool(false),
	}

	required := []struct{ key, value string }{
		{"name", desc.ID},
		{"executable", desc.Executable},
		{"extension", desc.Extension},
		{"backupArgs", desc.BackupCommand},
	}
	for _, r := range required {
		if r.value == "" {
			return sgb.ArchiverDescriptor{}, errors.Wrapf(sgb.ErrConfigInvalid, "required key %q is missing", r.key)
		}
	}

	desc.KnownExtensions = []string{desc.Extension}
	for _, ext := range splitList(sec.Key("altExtensions").String()) {
		ext = strings.TrimPrefix(ext, ".")
		if ext != "" && ext != desc.Extension {
			desc.KnownExtensions = append(desc.KnownExtensions, ext)
		}
	}

	if vs, err := f.GetSection("variables"); err == nil {
		desc.Variables = make(map[string]string)
		for _, k := range vs.Keys() {
			desc.Variables[k.Name()] = k.Value()
		}
	}
	return desc, nil
}

func firstKey(sec *ini.Section, names ...string) string {
	for _, n := range names {
		if sec.HasKey(n) {
			if v := strings.TrimSpace(sec.Key(n).String()); v != "" {
				return v
			}
		}
	}
	return ""
}

// splitList splits on ';', ',' and whitespace.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ',' || r == ' ' || r == '\t'
	})
}
