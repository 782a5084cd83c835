// Package archive reads, writes and aligns ZIP containers such as APK files.
//
// Entries are handled in their raw form: DEFLATED payloads are copied without
// recompression, and STORED payloads can be shifted to any alignment by
// padding the local header extra field. The CRC and sizes of an entry never
// change when it is rewritten.
//
// # Basic Usage
//
//	if err := archive.BuildStored(treeDir, "unsigned.apk"); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := archive.NewAligner(4).Align("unsigned.apk", "aligned.apk")
package archive
