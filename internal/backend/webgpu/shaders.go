package webgpu

// WGSL compute shaders for the deformable resampling kernels.
// Using string constants instead of embed for simplicity.

// workgroupSize is the number of threads per workgroup.
const workgroupSize = 256

// paramsStruct mirrors params in params.go: sixteen u32 fields, 64 bytes.
const paramsStruct = `
struct Params {
    channels: u32,
    height: u32,
    width: u32,
    kernel_h: u32,
    kernel_w: u32,
    pad_h: u32,
    pad_w: u32,
    stride_h: u32,
    stride_w: u32,
    dilation_h: u32,
    dilation_w: u32,
    groups: u32,
    height_out: u32,
    width_out: u32,
    modulated: u32,
    units: u32,
}
`

// samplingHelpers are shared by every kernel. They read the image binding.
const samplingHelpers = `
fn in_range(h: f32, w: f32) -> bool {
    return h > -1.0 && w > -1.0 && h < f32(params.height) && w < f32(params.width);
}

fn pixel(base: u32, h: i32, w: i32) -> f32 {
    if (h < 0 || w < 0 || h >= i32(params.height) || w >= i32(params.width)) {
        return 0.0;
    }
    return image[base + u32(h) * params.width + u32(w)];
}

fn bilinear(base: u32, h: f32, w: f32) -> f32 {
    let h_low = i32(floor(h));
    let w_low = i32(floor(w));
    let lh = h - f32(h_low);
    let lw = w - f32(w_low);
    let hh = 1.0 - lh;
    let hw = 1.0 - lw;

    let v1 = pixel(base, h_low, w_low);
    let v2 = pixel(base, h_low, w_low + 1);
    let v3 = pixel(base, h_low + 1, w_low);
    let v4 = pixel(base, h_low + 1, w_low + 1);
    return hh * hw * v1 + hh * lw * v2 + lh * hw * v3 + lh * lw * v4;
}

// sample_point returns the input coordinate tap t of group reads for output (ho, wo).
// Offsets live on the input grid at (ho * stride_h, wo * stride_w).
fn sample_point(group: u32, t: u32, ho: u32, wo: u32) -> vec2<f32> {
    let taps = params.kernel_h * params.kernel_w;
    let plane = params.height * params.width;
    let hg = ho * params.stride_h;
    let wg = wo * params.stride_w;
    let grid = hg * params.width + wg;
    let i = t / params.kernel_w;
    let j = t % params.kernel_w;

    let off = (group * 2u * taps + 2u * t) * plane + grid;
    let h = f32(i32(hg + i * params.dilation_h) - i32(params.pad_h)) + offset[off];
    let w = f32(i32(wg + j * params.dilation_w) - i32(params.pad_w)) + offset[off + plane];
    return vec2<f32>(h, w);
}

fn mask_at(group: u32, t: u32, ho: u32, wo: u32) -> f32 {
    // mask is always bound; unmodulated passes bind a placeholder.
    if (params.modulated == 0u) {
        return 1.0;
    }
    return mask[((group * params.kernel_h * params.kernel_w + t) * params.height + ho * params.stride_h) * params.width + wo * params.stride_w];
}

fn unit_index(gid: vec3<u32>, nwg: vec3<u32>) -> u32 {
    return gid.x + gid.y * nwg.x * 256u;
}
`

// im2colShader expands an image into its column buffer.
// One invocation per (channel, ho, wo).
const im2colShader = paramsStruct + `
@group(0) @binding(0) var<storage, read> image: array<f32>;
@group(0) @binding(1) var<storage, read> offset: array<f32>;
@group(0) @binding(2) var<storage, read> mask: array<f32>;
@group(0) @binding(3) var<storage, read_write> column: array<f32>;
@group(0) @binding(4) var<uniform> params: Params;
` + samplingHelpers + `
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
    let idx = unit_index(gid, nwg);
    if (idx >= params.units) {
        return;
    }

    let wo = idx % params.width_out;
    let ho = (idx / params.width_out) % params.height_out;
    let c = idx / params.width_out / params.height_out;
    let group = c / (params.channels / params.groups);
    let taps = params.kernel_h * params.kernel_w;
    let base = c * params.height * params.width;

    for (var t = 0u; t < taps; t = t + 1u) {
        let p = sample_point(group, t, ho, wo);
        var val = 0.0;
        if (in_range(p.x, p.y)) {
            val = bilinear(base, p.x, p.y);
        }
        column[((c * taps + t) * params.height_out + ho) * params.width_out + wo] = val * mask_at(group, t, ho, wo);
    }
}
`

// col2imShader scatters the column gradient onto the image gradient.
// One invocation per column cell; overlapping writes use a compare-and-swap float add.
const col2imShader = paramsStruct + `
@group(0) @binding(0) var<storage, read> col_grad: array<f32>;
@group(0) @binding(1) var<storage, read> offset: array<f32>;
@group(0) @binding(2) var<storage, read> mask: array<f32>;
@group(0) @binding(3) var<storage, read_write> image_grad: array<atomic<u32>>;
@group(0) @binding(4) var<uniform> params: Params;

fn in_range(h: f32, w: f32) -> bool {
    return h > -1.0 && w > -1.0 && h < f32(params.height) && w < f32(params.width);
}

fn sample_point(group: u32, t: u32, ho: u32, wo: u32) -> vec2<f32> {
    let taps = params.kernel_h * params.kernel_w;
    let plane = params.height * params.width;
    let hg = ho * params.stride_h;
    let wg = wo * params.stride_w;
    let grid = hg * params.width + wg;
    let i = t / params.kernel_w;
    let j = t % params.kernel_w;

    let off = (group * 2u * taps + 2u * t) * plane + grid;
    let h = f32(i32(hg + i * params.dilation_h) - i32(params.pad_h)) + offset[off];
    let w = f32(i32(wg + j * params.dilation_w) - i32(params.pad_w)) + offset[off + plane];
    return vec2<f32>(h, w);
}

fn mask_at(group: u32, t: u32, ho: u32, wo: u32) -> f32 {
    if (params.modulated == 0u) {
        return 1.0;
    }
    return mask[((group * params.kernel_h * params.kernel_w + t) * params.height + ho * params.stride_h) * params.width + wo * params.stride_w];
}

fn atomic_add(i: u32, v: f32) {
    var old = atomicLoad(&image_grad[i]);
    loop {
        let next = bitcast<u32>(bitcast<f32>(old) + v);
        let r = atomicCompareExchangeWeak(&image_grad[i], old, next);
        if (r.exchanged) {
            break;
        }
        old = r.old_value;
    }
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
    let idx = gid.x + gid.y * nwg.x * 256u;
    if (idx >= params.units) {
        return;
    }

    let taps = params.kernel_h * params.kernel_w;
    let wo = idx % params.width_out;
    let ho = (idx / params.width_out) % params.height_out;
    let t = (idx / params.width_out / params.height_out) % taps;
    let c = idx / params.width_out / params.height_out / taps;
    let group = c / (params.channels / params.groups);

    let top = col_grad[idx] * mask_at(group, t, ho, wo);
    let p = sample_point(group, t, ho, wo);
    if (!in_range(p.x, p.y)) {
        return;
    }

    let h_low = i32(floor(p.x));
    let w_low = i32(floor(p.y));
    let base = c * params.height * params.width;
    for (var ph = h_low; ph <= h_low + 1; ph = ph + 1) {
        if (ph < 0 || ph >= i32(params.height) || abs(p.x - f32(ph)) >= 1.0) {
            continue;
        }
        var wh = f32(ph) + 1.0 - p.x;
        if (ph != h_low) {
            wh = p.x + 1.0 - f32(ph);
        }
        for (var pw = w_low; pw <= w_low + 1; pw = pw + 1) {
            if (pw < 0 || pw >= i32(params.width) || abs(p.y - f32(pw)) >= 1.0) {
                continue;
            }
            var ww = f32(pw) + 1.0 - p.y;
            if (pw != w_low) {
                ww = p.y + 1.0 - f32(pw);
            }
            atomic_add(base + u32(ph) * params.width + u32(pw), wh * ww * top);
        }
    }
}
`

// col2imCoordShader computes offset and mask gradients.
// One invocation per (offset channel, ho, wo); each owns the cells it writes.
const col2imCoordShader = paramsStruct + `
@group(0) @binding(0) var<storage, read> col_grad: array<f32>;
@group(0) @binding(1) var<storage, read> image: array<f32>;
@group(0) @binding(2) var<storage, read> offset: array<f32>;
@group(0) @binding(3) var<storage, read> mask: array<f32>;
@group(0) @binding(4) var<storage, read_write> offset_grad: array<f32>;
@group(0) @binding(5) var<storage, read_write> mask_grad: array<f32>;
@group(0) @binding(6) var<uniform> params: Params;
` + samplingHelpers + `
fn coordinate_weight(base: u32, h: f32, w: f32, dir: u32) -> f32 {
    if (!in_range(h, w)) {
        return 0.0;
    }
    let h_low = i32(floor(h));
    let w_low = i32(floor(w));
    let v1 = pixel(base, h_low, w_low);
    let v2 = pixel(base, h_low, w_low + 1);
    let v3 = pixel(base, h_low + 1, w_low);
    let v4 = pixel(base, h_low + 1, w_low + 1);

    if (dir == 0u) {
        let a = f32(w_low) + 1.0 - w;
        let b = w - f32(w_low);
        return -a * v1 - b * v2 + a * v3 + b * v4;
    }
    let a = f32(h_low) + 1.0 - h;
    let b = h - f32(h_low);
    return -a * v1 + a * v2 - b * v3 + b * v4;
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) nwg: vec3<u32>) {
    let idx = unit_index(gid, nwg);
    if (idx >= params.units) {
        return;
    }

    let taps = params.kernel_h * params.kernel_w;
    let wo = idx % params.width_out;
    let ho = (idx / params.width_out) % params.height_out;
    let oc = (idx / params.width_out / params.height_out) % (2u * taps);
    let group = idx / params.width_out / params.height_out / (2u * taps);
    let t = oc / 2u;
    let dir = oc % 2u;
    let per_group = params.channels / params.groups;
    let plane = params.height * params.width;
    let grid = ho * params.stride_h * params.width + wo * params.stride_w;
    let m = mask_at(group, t, ho, wo);

    var p = sample_point(group, t, ho, wo);
    let valid = in_range(p.x, p.y);
    if (!valid) {
        p = vec2<f32>(-2.0, -2.0);
    }

    var offset_sum = 0.0;
    var mask_sum = 0.0;
    for (var k = 0u; k < per_group; k = k + 1u) {
        let c = group * per_group + k;
        let base = c * plane;
        let top = col_grad[((c * taps + t) * params.height_out + ho) * params.width_out + wo];
        offset_sum = offset_sum + coordinate_weight(base, p.x, p.y, dir) * m * top;
        if (params.modulated != 0u && dir == 0u && valid) {
            mask_sum = mask_sum + top * bilinear(base, p.x, p.y);
        }
    }

    let oi = (group * 2u * taps + oc) * plane + grid;
    offset_grad[oi] = offset_grad[oi] + offset_sum;
    if (params.modulated != 0u && dir == 0u) {
        let mi = (group * taps + t) * plane + grid;
        mask_grad[mi] = mask_grad[mi] + mask_sum;
    }
}
`
