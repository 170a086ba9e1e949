package crawler

// Page describes where a result window sits in the filtered upstream set.
type Page struct {
	TotalAvailable int
	HasMore        bool
	NextOffset     int
}

// Window clamps [offset, offset+limit) to a list of n items. It never adds
// offset and limit, so any int is safe.
func Window(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	start := min(offset, n)
	end := start + min(limit, n-start)
	return start, end
}

// Paginate reports whether items remain past the offset+limit window.
// There is no cursor: the next page is a new crawl at NextOffset.
func Paginate(filteredCount, offset, limit, returned int) Page {
	return Page{
		TotalAvailable: filteredCount,
		HasMore:        offset < filteredCount && limit < filteredCount-offset,
		NextOffset:     offset + returned,
	}
}
