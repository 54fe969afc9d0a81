package testsupport

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/tiff"
)

// DicomFixture describes a small synthetic ophthalmic DICOM instance.
type DicomFixture struct {
	SOPInstanceUID   string
	PatientName      string
	PatientID        string
	PatientBirthDate string
	StudyDate        string
	Laterality       string
	Model            string
	TransferSyntax   string
	Rows             int
	Cols             int

	// Pre-existing private block, written when PrivateCreator is set.
	PrivateGroup   uint16
	PrivateCreator string
	PictureUID     string
}

// DefaultFixture returns a fixture with PHI and geometry filled in.
func DefaultFixture() DicomFixture {
	return DicomFixture{
		PatientName:      "DOE^JANE",
		PatientID:        "PID-0042",
		PatientBirthDate: "19700615",
		StudyDate:        "20240614",
		Laterality:       "R",
		Model:            "Fundus 3000",
		TransferSyntax:   "1.2.840.10008.1.2.1",
		Rows:             4,
		Cols:             6,
	}
}

// WriteDicom writes fx to dir/name and returns the full path.
func WriteDicom(t testing.TB, dir, name string, fx DicomFixture) string {
	t.Helper()

	if fx.Rows == 0 {
		fx.Rows = 4
	}
	if fx.Cols == 0 {
		fx.Cols = 6
	}
	if fx.TransferSyntax == "" {
		fx.TransferSyntax = "1.2.840.10008.1.2.1"
	}
	mediaUID := fx.SOPInstanceUID
	if mediaUID == "" {
		mediaUID = "1.2.826.0.1.3680043.10.1"
	}

	var elems []*dicom.Element
	add := func(t2 tag.Tag, v any) {
		elem, err := dicom.NewElement(t2, v)
		if err != nil {
			t.Fatalf("new element %v: %v", t2, err)
		}
		elems = append(elems, elem)
	}
	addString := func(t2 tag.Tag, v string) {
		if v != "" {
			add(t2, []string{v})
		}
	}

	add(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	add(tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.77.1.5.1"})
	add(tag.MediaStorageSOPInstanceUID, []string{mediaUID})
	add(tag.TransferSyntaxUID, []string{fx.TransferSyntax})

	addString(tag.SOPInstanceUID, fx.SOPInstanceUID)
	addString(tag.StudyDate, fx.StudyDate)
	add(tag.Modality, []string{"OP"})
	addString(tag.Tag{Group: 0x0008, Element: 0x1090}, fx.Model)
	addString(tag.PatientName, fx.PatientName)
	addString(tag.PatientID, fx.PatientID)
	addString(tag.PatientBirthDate, fx.PatientBirthDate)
	addString(tag.Tag{Group: 0x0020, Element: 0x0062}, fx.Laterality)

	if fx.PrivateCreator != "" {
		group := fx.PrivateGroup
		if group == 0 {
			group = 0x0011
		}
		elems = append(elems, privateString(tag.Tag{Group: group, Element: 0x0010}, "LO", fx.PrivateCreator))
		if fx.PictureUID != "" {
			elems = append(elems, privateString(tag.Tag{Group: group, Element: 0x1001}, "UI", fx.PictureUID))
		}
	}

	add(tag.SamplesPerPixel, []int{1})
	add(tag.PhotometricInterpretation, []string{"MONOCHROME2"})
	add(tag.Rows, []int{fx.Rows})
	add(tag.Columns, []int{fx.Cols})
	add(tag.BitsAllocated, []int{8})
	add(tag.BitsStored, []int{8})
	add(tag.HighBit, []int{7})
	add(tag.PixelRepresentation, []int{0})

	data := make([][]int, fx.Rows*fx.Cols)
	for i := range data {
		data[i] = []int{(i * 17) % 256}
	}
	add(tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{{
			Encapsulated: false,
			NativeData: frame.NativeFrame{
				BitsPerSample: 8,
				Rows:          fx.Rows,
				Cols:          fx.Cols,
				Data:          data,
			},
		}},
	})

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()

	if err := dicom.Write(file, dicom.Dataset{Elements: elems},
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
	); err != nil {
		t.Fatalf("write dicom: %v", err)
	}
	return path
}

func privateString(t tag.Tag, vr, value string) *dicom.Element {
	if len(value)%2 == 1 {
		if vr == "UI" {
			value += "\x00"
		} else {
			value += " "
		}
	}
	v, _ := dicom.NewValue([]string{value})
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.VRStringList,
		RawValueRepresentation: vr,
		ValueLength:            uint32(len(value)),
		Value:                  v,
	}
}

// WriteTIFF writes a small grayscale TIFF to dir/name and returns its path.
func WriteTIFF(t testing.TB, dir, name string, width, height int) string {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 10)})
		}
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	if err := tiff.Encode(file, img, nil); err != nil {
		t.Fatalf("encode tiff: %v", err)
	}
	return path
}

// WriteFile writes raw bytes to dir/name and returns its path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
