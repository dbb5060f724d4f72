// Package record decodes the tab-separated lines a listing child writes to
// its standard output.
//
// Wire format, one record per line:
//
//	<path>\t<size>\t<kind>\n
//
// Decode is pure: the same line always yields the same Record or the same
// error. Errors wrap ErrMalformedRecord or ErrInvalidSize so callers can
// classify them with errors.Is.
//
// Example Usage:
//
//	rec, err := record.Decode("/a/b/c.txt\t42\tfile")
//	if errors.Is(err, record.ErrInvalidSize) {
//		// skip the line
//	}
//	fmt.Println(rec.Path) // c.txt
package record
