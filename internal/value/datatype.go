// Package value 定义主题的数据类型以及带类型标签的值
package value

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownType = errors.New("unknown data type")

// DataType 主题数据类型，编号与 NetworkTables 4 的类型编号一致
type DataType uint8

const (
	TypeBoolean      DataType = 0
	TypeDouble       DataType = 1
	TypeInt          DataType = 2
	TypeFloat        DataType = 3
	TypeString       DataType = 4
	TypeRaw          DataType = 5
	TypeBooleanArray DataType = 16
	TypeDoubleArray  DataType = 17
	TypeIntArray     DataType = 18
	TypeFloatArray   DataType = 19
	TypeStringArray  DataType = 20
)

var dataTypeNames = map[DataType]string{
	TypeBoolean:      "boolean",
	TypeDouble:       "double",
	TypeInt:          "int",
	TypeFloat:        "float",
	TypeString:       "string",
	TypeRaw:          "raw",
	TypeBooleanArray: "boolean[]",
	TypeDoubleArray:  "double[]",
	TypeIntArray:     "int[]",
	TypeFloatArray:   "float[]",
	TypeStringArray:  "string[]",
}

var dataTypeAliases = map[string]DataType{
	"number":   TypeDouble,
	"number[]": TypeDoubleArray,
	"bytes":    TypeRaw,
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

func (t DataType) Valid() bool {
	_, ok := dataTypeNames[t]
	return ok
}

// ParseType 由类型名解析数据类型，接受 "number" 作为 "double" 的别名
func ParseType(name string) (DataType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range dataTypeNames {
		if n == name {
			return t, nil
		}
	}
	if t, ok := dataTypeAliases[name]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownType, name)
}
