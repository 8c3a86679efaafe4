package capability

import (
	"strconv"
	"strings"
)

// ParseModalias extracts the vendor/product code pair from a BlueZ Modalias
// string like "bluetooth:v004Cp2014dB087".
func ParseModalias(modalias string) (vendor, product uint16, ok bool) {
	v := strings.IndexByte(modalias, 'v')
	if v < 0 || v+5 > len(modalias) {
		return 0, 0, false
	}
	vendor64, err := strconv.ParseUint(modalias[v+1:v+5], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	p := strings.IndexByte(modalias, 'p')
	if p < 0 || p+5 > len(modalias) {
		return 0, 0, false
	}
	product64, err := strconv.ParseUint(modalias[p+1:p+5], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(vendor64), uint16(product64), true
}
