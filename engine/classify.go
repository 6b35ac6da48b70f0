package engine

import "github.com/dreamerjackson/devcat/spider"

// Seen reports whether a device has a recorded completed fetch.
type Seen interface {
	Has(url string) bool
}

// Classify splits freshly listed stubs into devices missing from the catalog
// directory and devices present in the directory but absent from the ledger.
// Devices in both are up to date and dropped. A URL listed twice is
// classified once, at its first occurrence.
func Classify(stubs []spider.DeviceStub, directory map[string]string, seen Seen) (newStubs, needsUpdate []spider.DeviceStub) {
	visited := make(map[string]bool, len(stubs))
	for _, stub := range stubs {
		if visited[stub.URL] {
			continue
		}
		visited[stub.URL] = true

		if _, ok := directory[stub.URL]; !ok {
			newStubs = append(newStubs, stub)
			continue
		}
		if !seen.Has(stub.URL) {
			needsUpdate = append(needsUpdate, stub)
		}
	}
	return newStubs, needsUpdate
}
