package msteams

// Names of the Go callbacks exposed into the page. The bridge functions are
// installed before any script below runs.
const (
	fnMutation  = "__vxOnMutation"
	fnAudio     = "__vxOnAudio"
	fnTerminate = "__vxOnTerminate"
)

// probeScript reports whether the meeting stage is present.
const probeScript = `(sel) => {
	return sel.meetingContainerSelectors.some((s) => !!document.querySelector(s));
}`

// observerScript installs the shared helpers and the DOM observers. It runs
// once per page; helpers live on window.__vx so the query scripts can reuse
// them. Raw tile text is reported as-is; name hygiene happens on the Go side.
const observerScript = `(sel) => {
	if (window.__vx) return true;

	let refSeq = 0;
	const refOf = (el) => {
		if (!el.dataset.vxRef) {
			refSeq += 1;
			el.dataset.vxRef = 'el-' + refSeq;
		}
		return el.dataset.vxRef;
	};

	const visible = (el) => {
		if (!el) return false;
		const cs = getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		if (cs.display === 'none' || cs.visibility === 'hidden' || cs.opacity === '0') return false;
		if (el.getAttribute('aria-hidden') === 'true') return false;
		const transform = cs.transform || '';
		if (transform.includes('scale(0')) return false;
		if (sel.occlusionSelectors.length && el.closest(sel.occlusionSelectors[0])) return false;
		return true;
	};

	const idOf = (el) => {
		let id = el.getAttribute('data-tid') ||
			el.getAttribute('data-participant-id') ||
			el.getAttribute('data-user-id') ||
			el.getAttribute('data-object-id') ||
			el.getAttribute('id');
		if (!id) {
			const child = el.querySelector(sel.participantIdSelectors.join(', '));
			if (child) {
				id = child.getAttribute('data-tid') ||
					child.getAttribute('data-participant-id') ||
					child.getAttribute('data-user-id');
			}
		}
		return id || '';
	};

	const nameOf = (el) => {
		for (const s of sel.nameSelectors) {
			const n = el.querySelector(s);
			if (!n) continue;
			const text = n.textContent || n.getAttribute('title') || n.getAttribute('aria-label');
			if (text && text.trim()) return text.trim();
		}
		const aria = el.getAttribute('aria-label');
		if (aria && aria.includes('name')) {
			const m = aria.match(/name[:\s]+([^,]+)/i);
			if (m && m[1]) return m[1].trim();
		}
		return '';
	};

	const hasClassOf = (el, classes) => {
		for (const cls of classes) {
			if (el.classList.contains(cls)) return true;
			if (el.querySelector('.' + cls)) return true;
		}
		return false;
	};

	const buildObs = (el) => {
		const indicator = sel.voiceLevelSelectors.length
			? el.querySelector(sel.voiceLevelSelectors[0])
			: null;
		return {
			ref: refOf(el),
			id: idOf(el),
			name: nameOf(el),
			hasIndicator: !!indicator,
			indicatorVisible: !!indicator && visible(indicator),
			speakingClass: hasClassOf(el, sel.speakingClasses),
			silenceClass: hasClassOf(el, sel.silenceClasses),
		};
	};

	const tiles = () => {
		const seen = new Set();
		const out = [];
		for (const s of sel.participantSelectors) {
			document.querySelectorAll(s).forEach((el) => {
				const r = refOf(el);
				if (!seen.has(r)) {
					seen.add(r);
					out.push(el);
				}
			});
		}
		return out;
	};

	const matchesTile = (el) =>
		sel.participantSelectors.some((s) => el.matches && el.matches(s));

	const notify = (kind, el) => {
		try {
			window.__vxOnMutation({ kind: kind, obs: buildObs(el) });
		} catch (e) {}
	};

	const attachTileObserver = (el) => {
		if (el.dataset.vxObserved) return;
		el.dataset.vxObserved = 'true';
		const mo = new MutationObserver((muts) => {
			for (const m of muts) {
				if (m.type === 'attributes' && el.contains(m.target)) {
					notify('changed', el);
					return;
				}
			}
		});
		mo.observe(el, { attributes: true, attributeFilter: ['class', 'style', 'aria-hidden'], subtree: true });
	};

	tiles().forEach(attachTileObserver);

	const bodyObserver = new MutationObserver((muts) => {
		for (const m of muts) {
			if (m.type !== 'childList') continue;
			m.addedNodes.forEach((node) => {
				if (node.nodeType !== Node.ELEMENT_NODE) return;
				const el = node;
				if (matchesTile(el)) {
					attachTileObserver(el);
					notify('added', el);
				}
				if (el.querySelectorAll) {
					el.querySelectorAll(sel.participantSelectors.join(', ')).forEach((tile) => {
						attachTileObserver(tile);
						notify('added', tile);
					});
				}
			});
			m.removedNodes.forEach((node) => {
				if (node.nodeType !== Node.ELEMENT_NODE) return;
				const el = node;
				if (el.dataset && el.dataset.vxRef) {
					try {
						window.__vxOnMutation({ kind: 'removed', obs: { ref: el.dataset.vxRef, id: idOf(el) } });
					} catch (e) {}
				}
			});
		}
	});
	bodyObserver.observe(document.body, { childList: true, subtree: true });

	window.addEventListener('beforeunload', () => {
		try { window.__vxOnTerminate(); } catch (e) {}
	});
	document.addEventListener('visibilitychange', () => {
		if (document.visibilityState === 'hidden') {
			try { window.__vxOnTerminate(); } catch (e) {}
		}
	});

	window.__vx = { sel, refOf, visible, idOf, nameOf, buildObs, tiles };
	return true;
}`

// snapshotScript reads every current tile.
const snapshotScript = `() => {
	if (!window.__vx) return [];
	return window.__vx.tiles().map(window.__vx.buildObs);
}`

// rosterScript collects display names from the participants panel: every
// menuitem carrying an avatar counts as one attendee.
const rosterScript = `() => {
	const names = new Set();
	document.querySelectorAll('[role="menuitem"]').forEach((item) => {
		if (!(item.querySelector('img') || item.querySelector('[role="img"]'))) return;
		const aria = item.getAttribute('aria-label');
		let name = aria && aria.trim() ? aria.trim() : '';
		if (!name) name = (item.textContent || '').trim();
		if (name) names.add(name);
	});
	return Array.from(names);
}`

// removalScript checks the body text and post-removal buttons for evidence
// that the bot was removed or the meeting ended.
const removalScript = `(phrases, labels) => {
	const body = (document.body && document.body.innerText || '').toLowerCase();
	if (phrases.some((p) => body.includes(p))) return true;
	const buttons = Array.from(document.querySelectorAll('button'));
	for (const btn of buttons) {
		const txt = (btn.textContent || '').trim().toLowerCase();
		const aria = (btn.getAttribute('aria-label') || '').toLowerCase();
		if (!labels.some((l) => txt === l || aria.includes(l))) continue;
		if (btn.offsetWidth > 0 && btn.offsetHeight > 0) {
			const cs = getComputedStyle(btn);
			if (cs.display !== 'none' && cs.visibility !== 'hidden') return true;
		}
	}
	return false;
}`

// audioScript taps every playing media element into one capture graph and
// streams mono float32 batches to the Go side at the target sample rate.
const audioScript = `(sampleRate) => {
	if (window.__vxAudio) return true;
	const ctx = new AudioContext({ sampleRate: sampleRate });
	const sink = ctx.createGain();
	sink.gain.value = 1.0;
	const processor = ctx.createScriptProcessor(4096, 1, 1);
	sink.connect(processor);
	const mute = ctx.createGain();
	mute.gain.value = 0;
	processor.connect(mute);
	mute.connect(ctx.destination);

	processor.onaudioprocess = (ev) => {
		const input = ev.inputBuffer.getChannelData(0);
		try {
			window.__vxOnAudio({ rate: ctx.sampleRate, samples: Array.from(input) });
		} catch (e) {}
	};

	const tapped = new WeakSet();
	const tap = (el) => {
		if (tapped.has(el)) return;
		try {
			const stream = el.captureStream ? el.captureStream() : null;
			if (!stream || stream.getAudioTracks().length === 0) return;
			ctx.createMediaStreamSource(stream).connect(sink);
			tapped.add(el);
		} catch (e) {}
	};

	const scan = () => {
		document.querySelectorAll('audio, video').forEach(tap);
	};
	scan();
	setInterval(scan, 2000);
	if (ctx.state === 'suspended') ctx.resume();

	window.__vxAudio = true;
	return true;
}`
