// Package usbid looks up vendor and product names in the usb.ids database
// shipped with usbutils and hwdata.
package usbid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/emfcamp/tildabridge/pkg"
)

// DefaultPaths are the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Names maps vendor and product IDs to names.
type Names struct {
	vendors  map[uint16]string
	products map[uint32]string
}

// Open parses the first of paths that exists, or DefaultPaths when none
// are given. It returns pkg.ErrNoDevice if no database is found.
func Open(paths ...string) (*Names, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		return Parse(f)
	}
	return nil, fmt.Errorf("usb.ids: %w", pkg.ErrNoDevice)
}

// Parse reads a usb.ids database. Vendor lines are "vvvv  name", product
// lines are a tab followed by "pppp  name". Everything after the vendor
// list (classes, languages, HID tables) ends the current vendor.
func Parse(r io.Reader) (*Names, error) {
	n := &Names{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
	vendor, inVendor := uint16(0), false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		product := line[0] == '\t'
		if product {
			if !inVendor || strings.HasPrefix(line, "\t\t") {
				continue
			}
			line = line[1:]
		}
		id, name, ok := splitEntry(line)
		if !ok {
			if !product {
				inVendor = false
			}
			continue
		}
		if product {
			n.products[uint32(vendor)<<16|uint32(id)] = name
			continue
		}
		vendor, inVendor = id, true
		n.vendors[vendor] = name
	}
	return n, sc.Err()
}

func splitEntry(line string) (uint16, string, bool) {
	if len(line) < 7 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(line[5:]), true
}

// Vendor returns the name of vid, or "" if unknown.
func (n *Names) Vendor(vid uint16) string {
	return n.vendors[vid]
}

// Product returns the name of pid under vid, or "" if unknown.
func (n *Names) Product(vid, pid uint16) string {
	return n.products[uint32(vid)<<16|uint32(pid)]
}

// Len returns the number of vendors and products known.
func (n *Names) Len() (vendors, products int) {
	return len(n.vendors), len(n.products)
}
