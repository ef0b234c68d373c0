// Package demux frames H.264 and H.265 Annex B elementary streams into
// access units. It locates NAL units by start code ([Scan]), classifies
// them with a per-codec [Family] table, and groups them with an
// [Assembler] that caches parameter sets and prepends them to the first
// keyframe. [StreamFramer] does the same for input that arrives in
// arbitrary chunks. SPS parsing ([ParseSPS], [ParseHEVCSPS]) and CEA-608
// caption extraction from SEI ([CaptionExtractor]) operate on the emitted
// access units.
package demux
