package rgb9e5ktx_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vearutop/rgb9e5ktx"
)

func ExampleEncodeRGB9E5() {
	word := rgb9e5ktx.EncodeRGB9E5(1, 0.5, 0.25)
	r, g, b := rgb9e5ktx.DecodeRGB9E5(word)
	fmt.Printf("%#08x %v %v %v\n", word, r, g, b)

	// Output:
	// 0x81010100 1 0.5 0.25
}

func ExampleMarshalKTX2() {
	img := &rgb9e5ktx.DecodedImage{
		Width:  2,
		Height: 2,
		Levels: [][]float32{
			make([]float32, 2*2*4),
			{1, 1, 1, 1},
		},
	}

	data, err := rgb9e5ktx.MarshalKTX2(rgb9e5ktx.Encode(img))
	if err != nil {
		return
	}
	f, err := rgb9e5ktx.ReadKTX2(data)
	if err != nil {
		return
	}
	fmt.Println(f.Format(), f.Header.LevelCount, len(data))

	// Output:
	// RGB9E5Ufloat 2 272
}

func ExampleRun() {
	dir, err := os.MkdirTemp("", "rgb9e5ktx")
	if err != nil {
		return
	}
	defer os.RemoveAll(dir)

	pairs, err := rgb9e5ktx.Pairs(
		[]string{filepath.Join(dir, "sky.exr")},
		[]string{filepath.Join(dir, "sky.ktx2")},
	)
	if err != nil {
		return
	}

	src := rgb9e5ktx.NewFileSource()
	defer src.Close()

	res, err := rgb9e5ktx.Run(context.Background(), src, pairs)
	if err != nil {
		return
	}
	fmt.Println(res.Converted, res.Failed, res.Jobs[0].Stage)

	// Output:
	// 0 1 decode
}
