package catalog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `id,title,genre,overview,acteurs,poster_path,vote_average,vote_count,release_date,original_language,popularity
1,Amélie,"Comédie, Romance",Une serveuse timide,"Audrey Tautou, Mathieu Kassovitz",/a.jpg,7.9,11000,2001-04-25,fr,42.5
2,Heat,"Action, Crime",A heist,"Al Pacino, Robert De Niro, Val Kilmer",,7.9,7000,1995-12-15,en,30.1
`

func TestReadSample(t *testing.T) {
	cat, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("got %d records, want 2", cat.Len())
	}
	if len(cat.Rejected) != 0 {
		t.Errorf("unexpected rejects: %+v", cat.Rejected)
	}

	a := cat.Records[0]
	if a.ID != 1 || a.Title != "Amélie" || a.Genre != "Comédie, Romance" {
		t.Errorf("record 0 = %+v", a)
	}
	if a.Actors != "Audrey Tautou, Mathieu Kassovitz" {
		t.Errorf("Actors = %q", a.Actors)
	}
	if a.VoteAverage != 7.9 || a.VoteCount != 11000 {
		t.Errorf("votes = %v/%d", a.VoteAverage, a.VoteCount)
	}
	if a.Extra["popularity"] != "42.5" {
		t.Errorf("Extra[popularity] = %q, want 42.5", a.Extra["popularity"])
	}
	if a.PosterURL() != PosterBaseURL+"/a.jpg" {
		t.Errorf("PosterURL = %q", a.PosterURL())
	}
	if cat.Records[1].PosterURL() != "" {
		t.Errorf("PosterURL without path = %q, want empty", cat.Records[1].PosterURL())
	}
}

func TestReadQuarantinesMalformedRows(t *testing.T) {
	input := `id,title,vote_average,vote_count
1,Good,7,10
x,Bad id,7,10
3,,7,10
4,Bad rating,eleven,10
5,Out of range,11,10
6,Short row
7,"Float id",6.5,12.0
`
	cat, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("got %d records, want 2: %+v", cat.Len(), cat.Records)
	}
	if cat.Records[1].ID != 7 || cat.Records[1].VoteCount != 12 {
		t.Errorf("record 1 = %+v", cat.Records[1])
	}
	if len(cat.Rejected) != 5 {
		t.Fatalf("got %d rejects, want 5: %+v", len(cat.Rejected), cat.Rejected)
	}
	wantLines := []int{3, 4, 5, 6, 7}
	for i, r := range cat.Rejected {
		if r.Line != wantLines[i] {
			t.Errorf("reject %d line = %d, want %d (%s)", i, r.Line, wantLines[i], r.Reason)
		}
	}
}

func TestReadRequiresIDAndTitle(t *testing.T) {
	_, err := Read(strings.NewReader("name,genre\nx,y\n"))
	if err == nil {
		t.Fatal("expected error for header without id/title")
	}
	_, err = Read(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestReadStripsBOM(t *testing.T) {
	cat, err := Read(strings.NewReader("\xef\xbb\xbfid,title\n1,A\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cat.Len() != 1 || !cat.HasColumn(ColID) {
		t.Errorf("BOM not stripped: columns=%v records=%d", cat.Columns, cat.Len())
	}
}

func TestWriteHeaderAndExtras(t *testing.T) {
	cat := Catalog{Records: []MovieRecord{
		{ID: 1, Title: "A", VoteAverage: 6, VoteCount: 3, Extra: map[string]string{"popularity": "1.5"}},
		{ID: 2, Title: "B, the sequel", Extra: map[string]string{"adult": "false"}},
	}}
	var buf bytes.Buffer
	if err := Write(&buf, cat); err != nil {
		t.Fatalf("Write: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	wantHeader := "id,title,genre,overview,acteurs,poster_path,vote_average,vote_count,release_date,original_language,adult,popularity"
	if lines[0] != wantHeader {
		t.Errorf("header = %q\nwant     %q", lines[0], wantHeader)
	}
	if lines[1] != "1,A,,,,,6,3,,,,1.5" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if lines[2] != `2,"B, the sequel",,,,,0,0,,,false,` {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestWriteReadRoundTripKeepsOrder(t *testing.T) {
	orig, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, orig); err != nil {
		t.Fatalf("Write: %v", err)
	}
	back, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read back: %v", err)
	}
	if back.Len() != orig.Len() {
		t.Fatalf("len %d, want %d", back.Len(), orig.Len())
	}
	for i := range orig.Records {
		if back.Records[i].Title != orig.Records[i].Title || back.Records[i].Actors != orig.Records[i].Actors {
			t.Errorf("record %d changed: %+v -> %+v", i, orig.Records[i], back.Records[i])
		}
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, ErrMissing) {
		t.Errorf("err = %v, want ErrMissing", err)
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "films.csv")
	if err := Save(path, Catalog{Records: []MovieRecord{{ID: 1, Title: "A"}, {ID: 2, Title: "B"}}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, Catalog{Records: []MovieRecord{{ID: 3, Title: "C"}}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 1 || cat.Records[0].Title != "C" {
		t.Errorf("records = %+v, want only C", cat.Records)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the catalog", len(entries))
	}
}

func TestDuplicateIDs(t *testing.T) {
	cat := Catalog{Records: []MovieRecord{{ID: 1}, {ID: 2}, {ID: 1}, {ID: 3}, {ID: 2}, {ID: 1}}}
	got := cat.DuplicateIDs()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("DuplicateIDs = %v, want [1 2]", got)
	}
}
