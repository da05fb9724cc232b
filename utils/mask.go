package utils

import (
	"fmt"
	"strconv"
)

// BitTest is one (filter, value) pair of a quality mask.
type BitTest struct {
	Filter uint16
	Value  uint16
}

// CompiledMask is a Mask with its binary strings parsed.
type CompiledMask struct {
	Value    uint16
	BitTests []BitTest
	Dilation int
}

// CompileMask parses the binary strings of mask once so they don't
// need to be parsed for every pixel.
func CompileMask(mask *Mask) (*CompiledMask, error) {
	if mask == nil {
		return nil, fmt.Errorf("mask is not defined")
	}

	if len(mask.Value) == 0 {
		if len(mask.BitTests) == 0 {
			return nil, fmt.Errorf("Please specify either mask.Value or mask.BitTests")
		} else if len(mask.BitTests)%2 != 0 {
			return nil, fmt.Errorf("The entries in mask.BitTests must be in pairs")
		}
	}

	out := &CompiledMask{}
	if mask.Dilation != nil {
		if *mask.Dilation < 0 {
			return nil, fmt.Errorf("mask dilation must not be negative: %d", *mask.Dilation)
		}
		out.Dilation = *mask.Dilation
	}

	if len(mask.Value) > 0 {
		v, err := strconv.ParseUint(mask.Value, 2, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid mask value %q: %v", mask.Value, err)
		}
		out.Value = uint16(v)
		return out, nil
	}

	for j := 0; j < len(mask.BitTests); j += 2 {
		filter, err := strconv.ParseUint(mask.BitTests[j], 2, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid bit test filter %q: %v", mask.BitTests[j], err)
		}
		value, err := strconv.ParseUint(mask.BitTests[j+1], 2, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid bit test value %q: %v", mask.BitTests[j+1], err)
		}
		out.BitTests = append(out.BitTests, BitTest{Filter: uint16(filter), Value: uint16(value)})
	}
	return out, nil
}

// Contaminated reports whether a quality value is flagged by the mask.
func (m *CompiledMask) Contaminated(qa uint16) bool {
	if m.Value != 0 {
		return qa&m.Value > 0
	}
	for _, bt := range m.BitTests {
		if qa&bt.Filter == bt.Value {
			return true
		}
	}
	return false
}
