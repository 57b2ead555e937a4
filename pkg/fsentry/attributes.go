package fsentry

import (
	"strings"
)

// Attribute bitset. Values match Windows' FILE_ATTRIBUTE_* so raw attributes from
// Win32FileAttributeData can be used as-is. On other platforms we derive what we can.
type Attributes uint32

const (
	AttrReadOnly          Attributes = 0x1
	AttrHidden            Attributes = 0x2
	AttrSystem            Attributes = 0x4
	AttrDirectory         Attributes = 0x10
	AttrArchive           Attributes = 0x20
	AttrDevice            Attributes = 0x40
	AttrNormal            Attributes = 0x80
	AttrTemporary         Attributes = 0x100
	AttrSparseFile        Attributes = 0x200
	AttrReparsePoint      Attributes = 0x400
	AttrCompressed        Attributes = 0x800
	AttrOffline           Attributes = 0x1000
	AttrNotContentIndexed Attributes = 0x2000
	AttrEncrypted         Attributes = 0x4000
)

var attributeNames = []struct {
	attr Attributes
	name string
}{
	{AttrReadOnly, "readonly"},
	{AttrHidden, "hidden"},
	{AttrSystem, "system"},
	{AttrDirectory, "directory"},
	{AttrArchive, "archive"},
	{AttrDevice, "device"},
	{AttrNormal, "normal"},
	{AttrTemporary, "temporary"},
	{AttrSparseFile, "sparse"},
	{AttrReparsePoint, "reparse"},
	{AttrCompressed, "compressed"},
	{AttrOffline, "offline"},
	{AttrNotContentIndexed, "notindexed"},
	{AttrEncrypted, "encrypted"},
}

func (a Attributes) Has(flag Attributes) bool {
	return a&flag == flag
}

// "readonly|hidden"
func (a Attributes) String() string {
	names := []string{}
	for _, item := range attributeNames {
		if a.Has(item.attr) {
			names = append(names, item.name)
		}
	}

	return strings.Join(names, "|")
}
