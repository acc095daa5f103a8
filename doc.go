// Package rgb9e5ktx converts HDR images into KTX 2.0 textures stored as shared-exponent
// RGB9E5 (E5B9G9R9_UFLOAT_PACK32).
//
// Source images are decoded asynchronously through an ImageSource (OpenEXR scanline files,
// Radiance RGBE, 8/16-bit TIFF and float KTX2 out of the box). A Scheduler polls pending
// jobs on each tick, packs every mip level with Encode and writes the container with
// WriteKTX2File. Run drives a whole batch and reports per-job outcomes.
package rgb9e5ktx
